package db

import (
	"os"
	"path/filepath"

	"github.com/fastusdc/cctp-relayer/internal/config"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type DatabaseManager struct {
	relayerDb *gorm.DB
	cacheDb   *gorm.DB
}

func NewDatabaseManager() *DatabaseManager {
	dm := &DatabaseManager{}
	dm.initDB()
	return dm
}

func (dm *DatabaseManager) initDB() {
	dbDir := config.AppConfig.DbDir
	if err := os.MkdirAll(dbDir, os.ModePerm); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	relayerPath := filepath.Join(dbDir, "relayer.db")
	relayerDb, err := gorm.Open(sqlite.Open(relayerPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		log.Fatalf("Failed to connect to relayer database: %v", err)
	}
	dm.relayerDb = relayerDb
	log.Debugf("Relayer database connected successfully, path: %s", relayerPath)

	cachePath := filepath.Join(dbDir, "cache.db")
	cacheDb, err := gorm.Open(sqlite.Open(cachePath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		log.Fatalf("Failed to connect to cache database: %v", err)
	}
	dm.cacheDb = cacheDb
	log.Debugf("Cache database connected successfully, path: %s", cachePath)

	dm.autoMigrate()
	log.Debugf("Database migration completed successfully")
}

func (dm *DatabaseManager) GetRelayerDB() *gorm.DB {
	return dm.relayerDb
}

func (dm *DatabaseManager) GetCacheDB() *gorm.DB {
	return dm.cacheDb
}

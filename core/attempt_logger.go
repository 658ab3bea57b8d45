package core

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"llm-keyring/models"
)

// AttemptLogger 异步批量写入的上游调用审计日志
// Buffered and batched so logging never blocks the request path; the table is
// strictly pruned so the database cannot grow without bound.
type AttemptLogger struct {
	db        *gorm.DB
	logger    *logrus.Logger
	logChan   chan *models.AttemptLog
	batchSize int
	flushTime time.Duration
	keepRows  int
	wg        sync.WaitGroup
	quit      chan struct{}
}

func NewAttemptLogger(db *gorm.DB, logger *logrus.Logger) *AttemptLogger {
	l := &AttemptLogger{
		db:        db,
		logger:    logger,
		logChan:   make(chan *models.AttemptLog, 1000),
		batchSize: 100,
		flushTime: 5 * time.Second,
		keepRows:  500,
		quit:      make(chan struct{}),
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.workerLoop()
	}()
	return l
}

// Record queues an attempt. Drops on a full queue rather than blocking the
// chain.
func (l *AttemptLogger) Record(attempt *models.AttemptLog) {
	select {
	case l.logChan <- attempt:
	default:
		l.logger.Warn("Attempt log channel full, dropping entry")
	}
}

func (l *AttemptLogger) workerLoop() {
	var batch []*models.AttemptLog
	ticker := time.NewTicker(l.flushTime)
	defer ticker.Stop()

	for {
		select {
		case attempt := <-l.logChan:
			batch = append(batch, attempt)
			if len(batch) >= l.batchSize {
				l.flush(batch)
				batch = nil
			}
		case <-ticker.C:
			if len(batch) > 0 {
				l.flush(batch)
				batch = nil
			}
		case <-l.quit:
			if len(batch) > 0 {
				l.flush(batch)
			}
			return
		}
	}
}

func (l *AttemptLogger) flush(batch []*models.AttemptLog) {
	if err := l.db.CreateInBatches(batch, len(batch)).Error; err != nil {
		l.logger.Errorf("Attempt log flush failed: %v", err)
		return
	}

	// Strict pruning: keep only the newest keepRows entries.
	var count int64
	l.db.Model(&models.AttemptLog{}).Count(&count)
	if count > int64(l.keepRows) {
		var pivotID uint
		l.db.Model(&models.AttemptLog{}).
			Select("id").Order("id desc").
			Offset(l.keepRows).Limit(1).Scan(&pivotID)
		if pivotID > 0 {
			l.db.Where("id <= ?", pivotID).Delete(&models.AttemptLog{})
		}
	}
}

// Close flushes remaining entries and stops the worker.
func (l *AttemptLogger) Close() {
	close(l.quit)
	l.wg.Wait()
}

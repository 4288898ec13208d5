package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/larmkedjan/larmvakt/internal/logger"
)

// MailboxSource polls a spool directory for message files dropped by a
// platform listener. It exists for deployments where push delivery is
// unavailable; each *.json file holds one forwarded message and is
// consumed (removed) after delivery.
type MailboxSource struct {
	// dir is the spool directory.
	dir string
	// interval is the polling period.
	interval time.Duration

	// cancel stops the polling loop.
	cancel context.CancelFunc
	// wg waits for the in-flight poll so no trigger fires after Stop.
	wg sync.WaitGroup
}

// NewMailboxSource creates a source polling the given directory.
func NewMailboxSource(dir string, interval time.Duration) *MailboxSource {
	return &MailboxSource{
		dir:      dir,
		interval: interval,
	}
}

// Start ensures the spool directory exists and begins polling.
func (s *MailboxSource) Start(ctx context.Context, handler Handler) error {
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return fmt.Errorf("spool dir %s: %v: %w", s.dir, err, ErrSourceUnavailable)
	}

	pollCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C:
				s.drain(pollCtx, handler)
			}
		}
	}()

	return nil
}

// Stop cancels the polling loop and waits for an in-flight poll to finish.
// After Stop returns, the handler is guaranteed not to be called again.
func (s *MailboxSource) Stop() {
	if s.cancel == nil {
		return
	}

	s.cancel()
	s.wg.Wait()
	s.cancel = nil
}

// drain consumes every pending message file, oldest name first.
func (s *MailboxSource) drain(ctx context.Context, handler Handler) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		logger.WarnKV(ctx, "Spool read failed", "dir", s.dir, "error", err)

		return
	}

	names := make([]string, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		names = append(names, entry.Name())
	}

	sort.Strings(names)

	for _, name := range names {
		// A Stop between files must not deliver the remainder.
		if ctx.Err() != nil {
			return
		}

		path := filepath.Join(s.dir, name)

		payload, err := os.ReadFile(path)
		if err != nil {
			logger.WarnKV(ctx, "Spool file read failed", "file", path, "error", err)

			continue
		}

		msg, err := decodeGatewayMessage(payload)
		if err != nil {
			logger.WarnKV(ctx, "Dropping undecodable spool file", "file", path, "error", err)
			_ = os.Remove(path)

			continue
		}

		handler(msg.Body, msg.Sender, msg.ReceivedAtMs)

		if err = os.Remove(path); err != nil {
			logger.WarnKV(ctx, "Spool file cleanup failed", "file", path, "error", err)
		}
	}
}

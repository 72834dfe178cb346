// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Thermoquad/poolstat/pkg/link"
	"github.com/sirupsen/logrus"
)

var errNotConnected = errors.New("not connected")

const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
)

// connectionManager owns the bus connection and the link driving it. It is
// the link's write sink, so writes always go to the current connection,
// and it reconnects with exponential backoff when reading fails.
type connectionManager struct {
	conn     Connection
	connInfo string
	mu       sync.RWMutex

	link *link.Link
	log  *logrus.Logger

	// Optional notifications, called from the reader goroutine
	onLost        func(err error)
	onReconnected func(connInfo string)

	cancel context.CancelFunc
	done   chan struct{}
}

// openSession opens the configured connection and creates its link
func openSession(log *logrus.Logger) (*connectionManager, error) {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return nil, err
	}

	cm := &connectionManager{
		conn:     conn,
		connInfo: connInfo,
		log:      log,
		done:     make(chan struct{}),
	}
	cm.link, err = link.New(cm, cfg.LinkSettings(), link.WithLogger(log))
	if err != nil {
		conn.Close()
		return nil, err
	}
	return cm, nil
}

func (cm *connectionManager) getConn() (Connection, string) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.conn, cm.connInfo
}

func (cm *connectionManager) setConn(conn Connection, connInfo string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.conn = conn
	cm.connInfo = connInfo
}

// Write sends framed bytes on the current connection
func (cm *connectionManager) Write(p []byte) (int, error) {
	conn, _ := cm.getConn()
	if conn == nil {
		return 0, errNotConnected
	}
	return conn.Write(p)
}

// start runs the reader loop until ctx is cancelled or Close is called
func (cm *connectionManager) start(ctx context.Context) {
	ctx, cm.cancel = context.WithCancel(ctx)
	go func() {
		defer close(cm.done)
		cm.readerLoop(ctx)
	}()
}

// readerLoop feeds the link from the connection, reconnecting on failure
func (cm *connectionManager) readerLoop(ctx context.Context) {
	for {
		conn, _ := cm.getConn()
		err := cm.link.Serve(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = ErrConnectionClosed
		}

		cm.log.WithError(err).Warn("connection lost")
		if cm.onLost != nil {
			cm.onLost(err)
		}

		if !cm.reconnect(ctx) {
			return
		}
	}
}

// reconnect attempts to reconnect with exponential backoff.
// Returns false if shutdown was requested during reconnection.
func (cm *connectionManager) reconnect(ctx context.Context) bool {
	if conn, _ := cm.getConn(); conn != nil {
		conn.Close()
	}
	cm.setConn(nil, "")

	backoff := initialBackoff
	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}

		conn, connInfo, err := OpenConnection()
		if err == nil {
			cm.setConn(conn, connInfo)
			// Partial frames from the old stream are meaningless now
			cm.link.Init()
			cm.log.WithField("connection", connInfo).Info("reconnected")
			if cm.onReconnected != nil {
				cm.onReconnected(connInfo)
			}
			return true
		}

		cm.log.WithError(err).WithField("retry", backoff).Debug("reconnect failed")
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// applyStartupLevels sends the configured chlorinator levels
func (cm *connectionManager) applyStartupLevels() {
	ch := cfg.Chlorinator
	if !ch.Installed || !ch.ApplyOnStart {
		return
	}
	if err := cm.link.Chlorinator().SetLevel(ch.Pool, ch.Spa, ch.SuperChlorinate); err != nil {
		cm.log.WithError(err).Warn("failed to apply chlorinator levels")
	}
}

// Close stops the reader, the link timers and the connection
func (cm *connectionManager) Close() error {
	if cm.cancel != nil {
		cm.cancel()
	}
	cm.link.Close()
	conn, _ := cm.getConn()
	var err error
	if conn != nil {
		// Unblocks a pending read
		err = conn.Close()
	}
	if cm.cancel != nil {
		<-cm.done
	}
	return err
}

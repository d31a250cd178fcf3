package scylla

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"coord-service/internal/config"
	"coord-service/internal/util"
)

// PreparedStatements holds the statements the account repository runs on
// every invocation.
type PreparedStatements struct {
	CreateMember     *gocql.Query
	GetMemberByID    *gocql.Query
	AcceptTerms      *gocql.Query
	SetSuspension    *gocql.Query
	RecordVote       *gocql.Query
	ClearReminder    *gocql.Query
	PendingReminders *gocql.Query
	IncrementMembers *gocql.Query
	CountMembers     *gocql.Query
}

type ScyllaClient struct {
	Session      *gocql.Session
	Prepared     *PreparedStatements
	prepareMutex sync.RWMutex
	isPrepared   bool
}

func NewScyllaClient(cfg *config.Config) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.SerialConsistency = gocql.LocalSerial
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.MaxPreparedStmts = 1000
	cluster.MaxRoutingKeyInfo = 1000
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if cfg.IsProduction() {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 "/root/certs/ca.pem",
			CertPath:               "/root/certs/server.pem",
			KeyPath:                "/root/certs/server.key",
			EnableHostVerification: true,
		}
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{Session: session}

	if err := client.prepareStatements(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	util.Info("ScyllaDB client initialized with prepared statements",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

// Schema:
//
//	CREATE TABLE members (
//	    user_bucket int, user_id bigint,
//	    suspended boolean, suspension_reason text, tos timestamp,
//	    need_vote_reminder boolean, last_voted timestamp, joined_at timestamp,
//	    PRIMARY KEY ((user_bucket), user_id));
//	CREATE TABLE member_counts (id text PRIMARY KEY, total counter);
func (s *ScyllaClient) prepareStatements() error {
	s.prepareMutex.Lock()
	defer s.prepareMutex.Unlock()

	if s.isPrepared {
		return nil
	}

	prepared := &PreparedStatements{}

	prepared.CreateMember = s.Session.Query(`
        INSERT INTO members (
            user_bucket, user_id, suspended, suspension_reason, tos,
            need_vote_reminder, last_voted, joined_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?) IF NOT EXISTS`)

	prepared.GetMemberByID = s.Session.Query(`
        SELECT user_bucket, user_id, suspended, suspension_reason, tos,
            need_vote_reminder, last_voted, joined_at
        FROM members WHERE user_bucket = ? AND user_id = ?`)

	prepared.AcceptTerms = s.Session.Query(`
        UPDATE members SET tos = ? WHERE user_bucket = ? AND user_id = ? IF EXISTS`)

	prepared.SetSuspension = s.Session.Query(`
        UPDATE members SET suspended = ?, suspension_reason = ?
        WHERE user_bucket = ? AND user_id = ? IF EXISTS`)

	prepared.RecordVote = s.Session.Query(`
        UPDATE members SET last_voted = ?, need_vote_reminder = true
        WHERE user_bucket = ? AND user_id = ? IF EXISTS`)

	prepared.ClearReminder = s.Session.Query(`
        UPDATE members SET need_vote_reminder = false
        WHERE user_bucket = ? AND user_id = ?
        IF need_vote_reminder = true AND last_voted < ?`)

	prepared.PendingReminders = s.Session.Query(`
        SELECT user_id FROM members
        WHERE user_bucket = ? AND need_vote_reminder = true AND last_voted < ?
        ALLOW FILTERING`)

	prepared.IncrementMembers = s.Session.Query(`
        UPDATE member_counts SET total = total + 1 WHERE id = 'members'`)

	prepared.CountMembers = s.Session.Query(`
        SELECT total FROM member_counts WHERE id = 'members'`)

	s.Prepared = prepared
	s.isPrepared = true

	util.Info("ScyllaDB prepared statements created successfully")
	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

// Bind copies a prepared statement and binds values under ctx.
func (s *ScyllaClient) Bind(ctx context.Context, q *gocql.Query, values ...interface{}) *gocql.Query {
	return s.Session.Query(q.Statement(), values...).WithContext(ctx)
}

func (s *ScyllaClient) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	util.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}

func (s *ScyllaClient) ExecuteWithRetry(query *gocql.Query, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if err := query.Exec(); err != nil {
			lastErr = err
			if i < maxRetries {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}

func (s *ScyllaClient) ScanWithRetry(query *gocql.Query, dest ...interface{}) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		if err := query.Scan(dest...); err != nil {
			if err == gocql.ErrNotFound {
				return err
			}
			lastErr = err
			if i < 2 {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}

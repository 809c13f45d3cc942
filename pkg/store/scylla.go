package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gocql/gocql"

	"github.com/mahaj/placement-chat/pkg/model"
	"github.com/mahaj/placement-chat/pkg/snowflake"
)

// Scylla persists messages in ScyllaDB/Cassandra. Conversation id is the
// partition key and the snowflake seq is the clustering key, so a partition
// read returns a conversation already in delivery order.
type Scylla struct {
	session *gocql.Session
	seq     *snowflake.Node
	log     *slog.Logger
}

var _ Store = (*Scylla)(nil)

// NewScylla connects to the cluster and returns a Store backed by it.
// nodeID must be unique per server instance so that seq values from
// concurrent instances never collide.
func NewScylla(hosts []string, keyspace string, nodeID int64, log *slog.Logger) (*Scylla, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, err
	}

	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.Quorum
	cluster.Timeout = 5 * time.Second
	cluster.ConnectTimeout = 5 * time.Second
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        1 * time.Second,
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	log.Info("connected to scylla cluster", "hosts", hosts, "keyspace", keyspace)
	return &Scylla{session: session, seq: node, log: log}, nil
}

func (s *Scylla) Close() {
	s.session.Close()
}

func (s *Scylla) Append(ctx context.Context, msg model.Message) (model.StoredMessage, error) {
	stored := model.StoredMessage{
		Message:   msg,
		Seq:       s.seq.Generate(),
		CreatedAt: time.Now().UTC(),
	}

	attachments, err := json.Marshal(msg.Attachments)
	if err != nil {
		return model.StoredMessage{}, fmt.Errorf("%w: encode attachments: %v", ErrPersistence, err)
	}

	err = s.session.Query(
		`INSERT INTO messages (conversation_id, seq, sender, sender_role, body, attachments, is_read, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		stored.ConversationID, stored.Seq, stored.Sender, string(stored.Role),
		stored.Body, string(attachments), stored.IsRead, stored.CreatedAt,
	).WithContext(ctx).Exec()
	if err != nil {
		return model.StoredMessage{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	// Digest upsert is best effort; the staff console tolerates a stale row
	// but the appended message itself is already durable.
	err = s.session.Query(
		`INSERT INTO conversations (conversation_id, last_sender, last_role, last_body, last_at)
		 VALUES (?, ?, ?, ?, ?)`,
		stored.ConversationID, stored.Sender, string(stored.Role), stored.Body, stored.CreatedAt,
	).WithContext(ctx).Exec()
	if err != nil {
		s.log.Warn("conversation digest upsert failed", "conversation", stored.ConversationID, "err", err)
	}

	return stored, nil
}

func (s *Scylla) ListByConversation(ctx context.Context, conversationID string) ([]model.StoredMessage, error) {
	iter := s.session.Query(
		`SELECT seq, sender, sender_role, body, attachments, is_read, created_at
		 FROM messages WHERE conversation_id = ?`,
		conversationID,
	).WithContext(ctx).Iter()

	var messages []model.StoredMessage
	var (
		seq         int64
		sender      string
		role        string
		body        string
		attachments string
		isRead      bool
		createdAt   time.Time
	)
	for iter.Scan(&seq, &sender, &role, &body, &attachments, &isRead, &createdAt) {
		msg := model.StoredMessage{
			Message: model.Message{
				ConversationID: conversationID,
				Sender:         sender,
				Role:           model.SenderRole(role),
				Body:           body,
				IsRead:         isRead,
			},
			Seq:       seq,
			CreatedAt: createdAt,
		}
		if attachments != "" && attachments != "null" {
			if err := json.Unmarshal([]byte(attachments), &msg.Attachments); err != nil {
				s.log.Warn("skipping undecodable attachments", "conversation", conversationID, "seq", seq, "err", err)
			}
		}
		messages = append(messages, msg)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return messages, nil
}

// MarkUserMessagesRead scans the conversation partition and flips unread user
// rows one by one. Scylla cannot update by a non-key filter, and a single
// conversation partition is small enough that the scan is cheap.
func (s *Scylla) MarkUserMessagesRead(ctx context.Context, conversationID string) error {
	seqs, err := s.unreadSeqs(ctx, conversationID)
	if err != nil {
		return err
	}
	for _, seq := range seqs {
		err := s.session.Query(
			`UPDATE messages SET is_read = true WHERE conversation_id = ? AND seq = ?`,
			conversationID, seq,
		).WithContext(ctx).Exec()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrPersistence, err)
		}
	}
	return nil
}

func (s *Scylla) CountUnread(ctx context.Context, conversationID string) (int64, error) {
	seqs, err := s.unreadSeqs(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	return int64(len(seqs)), nil
}

func (s *Scylla) unreadSeqs(ctx context.Context, conversationID string) ([]int64, error) {
	iter := s.session.Query(
		`SELECT seq, sender_role, is_read FROM messages WHERE conversation_id = ?`,
		conversationID,
	).WithContext(ctx).Iter()

	var seqs []int64
	var (
		seq    int64
		role   string
		isRead bool
	)
	for iter.Scan(&seq, &role, &isRead) {
		if model.SenderRole(role) == model.RoleUser && !isRead {
			seqs = append(seqs, seq)
		}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return seqs, nil
}

func (s *Scylla) Conversations(ctx context.Context) ([]model.ConversationDigest, error) {
	iter := s.session.Query(
		`SELECT conversation_id, last_sender, last_role, last_body, last_at FROM conversations`,
	).WithContext(ctx).Iter()

	var digests []model.ConversationDigest
	var d model.ConversationDigest
	var role string
	for iter.Scan(&d.ConversationID, &d.LastSender, &role, &d.LastBody, &d.LastAt) {
		d.LastRole = model.SenderRole(role)
		digests = append(digests, d)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return digests, nil
}

// EnsureSchema creates the keyspace tables. Called by scripts/create_tables;
// production deployments should run migrations instead.
func (s *Scylla) EnsureSchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			conversation_id text,
			seq bigint,
			sender text,
			sender_role text,
			body text,
			attachments text,
			is_read boolean,
			created_at timestamp,
			PRIMARY KEY (conversation_id, seq)
		) WITH CLUSTERING ORDER BY (seq ASC)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			conversation_id text PRIMARY KEY,
			last_sender text,
			last_role text,
			last_body text,
			last_at timestamp
		)`,
	}
	for _, stmt := range ddl {
		if err := s.session.Query(stmt).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("%w: %v", ErrPersistence, err)
		}
	}
	return nil
}

// Package store provides storage backends for the triage bot.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/gsPatrick/bot-medico-api/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) SaveFlow(f models.Flow) error {
	if f.ID == "" {
		f.ID = NewID()
	}
	now := time.Now()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = now
	nodesJSON, err := encodeJSON(f.Nodes, "{}")
	if err != nil {
		slog.Error("PostgresStore SaveFlow encode failed", "error", err, "flowID", f.ID)
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin flow save transaction: %w", err)
	}
	defer tx.Rollback()
	if f.Active {
		if _, err := tx.Exec(`UPDATE flows SET active = FALSE WHERE active = TRUE AND id != $1`, f.ID); err != nil {
			slog.Error("PostgresStore SaveFlow deactivate failed", "error", err, "flowID", f.ID)
			return fmt.Errorf("failed to deactivate other flows: %w", err)
		}
	}
	_, err = tx.Exec(`
		INSERT INTO flows (id, name, description, active, trigger_keyword, nodes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, description = EXCLUDED.description, active = EXCLUDED.active,
			trigger_keyword = EXCLUDED.trigger_keyword, nodes = EXCLUDED.nodes, updated_at = EXCLUDED.updated_at`,
		f.ID, f.Name, f.Description, f.Active, f.TriggerKeyword, nodesJSON, f.CreatedAt, f.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveFlow failed", "error", err, "flowID", f.ID)
		return fmt.Errorf("failed to save flow %s: %w", f.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit flow save: %w", err)
	}
	slog.Debug("PostgresStore SaveFlow succeeded", "flowID", f.ID, "name", f.Name, "active", f.Active)
	return nil
}

func (s *PostgresStore) getFlowWhere(clause string, args ...interface{}) (*models.Flow, error) {
	var f models.Flow
	var nodesJSON string
	err := s.db.QueryRow(`SELECT id, name, description, active, trigger_keyword, nodes, created_at, updated_at FROM flows `+clause, args...).
		Scan(&f.ID, &f.Name, &f.Description, &f.Active, &f.TriggerKeyword, &nodesJSON, &f.CreatedAt, &f.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if f.Nodes, err = decodeNodes(nodesJSON); err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *PostgresStore) GetFlow(id string) (*models.Flow, error) {
	f, err := s.getFlowWhere(`WHERE id = $1`, id)
	if err != nil {
		slog.Error("PostgresStore GetFlow failed", "error", err, "flowID", id)
		return nil, fmt.Errorf("failed to get flow %s: %w", id, err)
	}
	return f, nil
}

func (s *PostgresStore) GetActiveFlow() (*models.Flow, error) {
	f, err := s.getFlowWhere(`WHERE active = TRUE LIMIT 1`)
	if err != nil {
		slog.Error("PostgresStore GetActiveFlow failed", "error", err)
		return nil, fmt.Errorf("failed to get active flow: %w", err)
	}
	return f, nil
}

func (s *PostgresStore) GetFlowByTrigger(keyword string) (*models.Flow, error) {
	f, err := s.getFlowWhere(`WHERE trigger_keyword != '' AND LOWER(trigger_keyword) = LOWER($1) LIMIT 1`, keyword)
	if err != nil {
		slog.Error("PostgresStore GetFlowByTrigger failed", "error", err, "keyword", keyword)
		return nil, fmt.Errorf("failed to get flow by trigger %q: %w", keyword, err)
	}
	return f, nil
}

func (s *PostgresStore) ListFlows() ([]models.Flow, error) {
	rows, err := s.db.Query(`SELECT id, name, description, active, trigger_keyword, nodes, created_at, updated_at FROM flows ORDER BY created_at DESC`)
	if err != nil {
		slog.Error("PostgresStore ListFlows query failed", "error", err)
		return nil, fmt.Errorf("failed to query flows: %w", err)
	}
	defer rows.Close()
	var flows []models.Flow
	for rows.Next() {
		var f models.Flow
		var nodesJSON string
		if err := rows.Scan(&f.ID, &f.Name, &f.Description, &f.Active, &f.TriggerKeyword, &nodesJSON, &f.CreatedAt, &f.UpdatedAt); err != nil {
			slog.Error("PostgresStore ListFlows scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan flow row: %w", err)
		}
		if f.Nodes, err = decodeNodes(nodesJSON); err != nil {
			return nil, err
		}
		flows = append(flows, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate flow rows: %w", err)
	}
	slog.Debug("PostgresStore ListFlows succeeded", "count", len(flows))
	return flows, nil
}

// ActivateFlow transactionally deactivates every flow and activates the one
// with the given id, preserving the at-most-one-active invariant.
func (s *PostgresStore) ActivateFlow(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin activation transaction: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`UPDATE flows SET active = FALSE WHERE active = TRUE`); err != nil {
		slog.Error("PostgresStore ActivateFlow deactivate failed", "error", err)
		return fmt.Errorf("failed to deactivate flows: %w", err)
	}
	res, err := tx.Exec(`UPDATE flows SET active = TRUE, updated_at = $1 WHERE id = $2`, time.Now(), id)
	if err != nil {
		slog.Error("PostgresStore ActivateFlow failed", "error", err, "flowID", id)
		return fmt.Errorf("failed to activate flow %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check activation result: %w", err)
	}
	if affected == 0 {
		return ErrFlowNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit activation: %w", err)
	}
	slog.Info("PostgresStore ActivateFlow succeeded", "flowID", id)
	return nil
}

func (s *PostgresStore) DeleteFlow(id string) error {
	count, err := s.CountContactsOnFlow(id)
	if err != nil {
		return err
	}
	if count > 0 {
		slog.Warn("PostgresStore DeleteFlow refused, flow still referenced", "flowID", id, "contacts", count)
		return ErrFlowReferenced
	}
	res, err := s.db.Exec(`DELETE FROM flows WHERE id = $1`, id)
	if err != nil {
		slog.Error("PostgresStore DeleteFlow failed", "error", err, "flowID", id)
		return fmt.Errorf("failed to delete flow %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return ErrFlowNotFound
	}
	return nil
}

func (s *PostgresStore) CountContactsOnFlow(flowID string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM contacts WHERE current_flow_id = $1`, flowID).Scan(&count)
	if err != nil {
		slog.Error("PostgresStore CountContactsOnFlow failed", "error", err, "flowID", flowID)
		return 0, fmt.Errorf("failed to count contacts on flow %s: %w", flowID, err)
	}
	return count, nil
}

func (s *PostgresStore) GetContact(phone string) (*models.Contact, error) {
	var c models.Contact
	var variablesJSON, tagsJSON string
	err := s.db.QueryRow(`
		SELECT phone, name, current_flow_id, current_node_id, status, variables, tags, last_interaction_at, created_at, updated_at
		FROM contacts WHERE phone = $1`, phone).Scan(
		&c.Phone, &c.Name, &c.CurrentFlowID, &c.CurrentNodeID, &c.Status,
		&variablesJSON, &tagsJSON, &c.LastInteractionAt, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetContact failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to get contact %s: %w", phone, err)
	}
	if c.Variables, err = decodeStringMap(variablesJSON); err != nil {
		return nil, err
	}
	if c.Tags, err = decodeStringSlice(tagsJSON); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) SaveContact(c models.Contact) error {
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	variablesJSON, err := encodeJSON(c.Variables, "{}")
	if err != nil {
		return err
	}
	tagsJSON, err := encodeJSON(c.Tags, "[]")
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO contacts (phone, name, current_flow_id, current_node_id, status, variables, tags, last_interaction_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (phone) DO UPDATE SET
			name = EXCLUDED.name, current_flow_id = EXCLUDED.current_flow_id,
			current_node_id = EXCLUDED.current_node_id, status = EXCLUDED.status,
			variables = EXCLUDED.variables, tags = EXCLUDED.tags,
			last_interaction_at = EXCLUDED.last_interaction_at, updated_at = EXCLUDED.updated_at`,
		c.Phone, c.Name, c.CurrentFlowID, c.CurrentNodeID, c.Status,
		variablesJSON, tagsJSON, c.LastInteractionAt, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveContact failed", "error", err, "phone", c.Phone)
		return fmt.Errorf("failed to save contact %s: %w", c.Phone, err)
	}
	slog.Debug("PostgresStore SaveContact succeeded", "phone", c.Phone, "status", c.Status, "node", c.CurrentNodeID)
	return nil
}

func (s *PostgresStore) ListContacts(status string) ([]models.Contact, error) {
	query := `SELECT phone, name, current_flow_id, current_node_id, status, variables, tags, last_interaction_at, created_at, updated_at FROM contacts`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY last_interaction_at DESC`
	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("PostgresStore ListContacts query failed", "error", err)
		return nil, fmt.Errorf("failed to query contacts: %w", err)
	}
	defer rows.Close()
	var contacts []models.Contact
	for rows.Next() {
		var c models.Contact
		var variablesJSON, tagsJSON string
		if err := rows.Scan(&c.Phone, &c.Name, &c.CurrentFlowID, &c.CurrentNodeID, &c.Status,
			&variablesJSON, &tagsJSON, &c.LastInteractionAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
			slog.Error("PostgresStore ListContacts scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan contact row: %w", err)
		}
		if c.Variables, err = decodeStringMap(variablesJSON); err != nil {
			return nil, err
		}
		if c.Tags, err = decodeStringSlice(tagsJSON); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate contact rows: %w", err)
	}
	return contacts, nil
}

func (s *PostgresStore) ResetAllContacts() error {
	_, err := s.db.Exec(`
		UPDATE contacts SET current_flow_id = '', current_node_id = '', status = 'BOT',
			variables = '{}', tags = '[]', updated_at = $1`, time.Now())
	if err != nil {
		slog.Error("PostgresStore ResetAllContacts failed", "error", err)
		return fmt.Errorf("failed to reset contacts: %w", err)
	}
	slog.Info("PostgresStore ResetAllContacts succeeded")
	return nil
}

func (s *PostgresStore) AddMessage(m models.Message) error {
	if m.ID == "" {
		m.ID = NewID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	metadataJSON, err := encodeJSON(m.Metadata, "{}")
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO messages (id, contact_phone, direction, content, type, node_id, provider_message_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, m.ContactPhone, m.Direction, m.Content, m.Type, m.NodeID, m.ProviderMessageID, metadataJSON, m.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore AddMessage failed", "error", err, "phone", m.ContactPhone)
		return fmt.Errorf("failed to insert message for %s: %w", m.ContactPhone, err)
	}
	slog.Debug("PostgresStore AddMessage succeeded", "phone", m.ContactPhone, "direction", m.Direction, "node", m.NodeID)
	return nil
}

func (s *PostgresStore) ListMessages(phone string) ([]models.Message, error) {
	rows, err := s.db.Query(`
		SELECT id, contact_phone, direction, content, type, node_id, provider_message_id, metadata, created_at
		FROM messages WHERE contact_phone = $1 ORDER BY created_at ASC`, phone)
	if err != nil {
		slog.Error("PostgresStore ListMessages query failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()
	var messages []models.Message
	for rows.Next() {
		var m models.Message
		var metadataJSON string
		if err := rows.Scan(&m.ID, &m.ContactPhone, &m.Direction, &m.Content, &m.Type,
			&m.NodeID, &m.ProviderMessageID, &metadataJSON, &m.CreatedAt); err != nil {
			slog.Error("PostgresStore ListMessages scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		if m.Metadata, err = decodeStringMap(metadataJSON); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}
	return messages, nil
}

func (s *PostgresStore) AddNotificationRecipient(r models.NotificationRecipient) error {
	if r.ID == "" {
		r.ID = NewID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO notification_recipients (id, name, phone, enabled, created_at)
		VALUES ($1, $2, $3, $4, $5)`, r.ID, r.Name, r.Phone, r.Enabled, r.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore AddNotificationRecipient failed", "error", err, "name", r.Name)
		return fmt.Errorf("failed to insert notification recipient: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListNotificationRecipients() ([]models.NotificationRecipient, error) {
	return s.listRecipients(`SELECT id, name, phone, enabled, created_at FROM notification_recipients ORDER BY created_at ASC`)
}

func (s *PostgresStore) ListEnabledNotificationRecipients() ([]models.NotificationRecipient, error) {
	return s.listRecipients(`SELECT id, name, phone, enabled, created_at FROM notification_recipients WHERE enabled = TRUE ORDER BY created_at ASC`)
}

func (s *PostgresStore) listRecipients(query string) ([]models.NotificationRecipient, error) {
	rows, err := s.db.Query(query)
	if err != nil {
		slog.Error("PostgresStore recipient query failed", "error", err)
		return nil, fmt.Errorf("failed to query notification recipients: %w", err)
	}
	defer rows.Close()
	var recipients []models.NotificationRecipient
	for rows.Next() {
		var r models.NotificationRecipient
		if err := rows.Scan(&r.ID, &r.Name, &r.Phone, &r.Enabled, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan recipient row: %w", err)
		}
		recipients = append(recipients, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate recipient rows: %w", err)
	}
	return recipients, nil
}

func (s *PostgresStore) DeleteNotificationRecipient(id string) error {
	_, err := s.db.Exec(`DELETE FROM notification_recipients WHERE id = $1`, id)
	if err != nil {
		slog.Error("PostgresStore DeleteNotificationRecipient failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete notification recipient %s: %w", id, err)
	}
	return nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}

// Package store provides storage backends for the triage bot.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/gsPatrick/bot-medico-api/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveFlow(f models.Flow) error {
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
		slog.Error("SQLiteStore SaveFlow encode failed", "error", err, "flowID", f.ID)
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin flow save transaction: %w", err)
	}
	defer tx.Rollback()
	if f.Active {
		if _, err := tx.Exec(`UPDATE flows SET active = 0 WHERE active = 1 AND id != ?`, f.ID); err != nil {
			slog.Error("SQLiteStore SaveFlow deactivate failed", "error", err, "flowID", f.ID)
			return fmt.Errorf("failed to deactivate other flows: %w", err)
		}
	}
	_, err = tx.Exec(`
		INSERT INTO flows (id, name, description, active, trigger_keyword, nodes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, description = excluded.description, active = excluded.active,
			trigger_keyword = excluded.trigger_keyword, nodes = excluded.nodes, updated_at = excluded.updated_at`,
		f.ID, f.Name, f.Description, f.Active, f.TriggerKeyword, nodesJSON, f.CreatedAt, f.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveFlow failed", "error", err, "flowID", f.ID)
		return fmt.Errorf("failed to save flow %s: %w", f.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit flow save: %w", err)
	}
	slog.Debug("SQLiteStore SaveFlow succeeded", "flowID", f.ID, "name", f.Name, "active", f.Active)
	return nil
}

const flowColumns = `id, name, description, active, trigger_keyword, nodes, created_at, updated_at`

func scanFlowRow(row *sql.Row) (*models.Flow, error) {
	var f models.Flow
	var nodesJSON string
	err := row.Scan(&f.ID, &f.Name, &f.Description, &f.Active, &f.TriggerKeyword, &nodesJSON, &f.CreatedAt, &f.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	f.Nodes, err = decodeNodes(nodesJSON)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *SQLiteStore) GetFlow(id string) (*models.Flow, error) {
	row := s.db.QueryRow(`SELECT `+flowColumns+` FROM flows WHERE id = ?`, id)
	f, err := scanFlowRow(row)
	if err != nil {
		slog.Error("SQLiteStore GetFlow failed", "error", err, "flowID", id)
		return nil, fmt.Errorf("failed to get flow %s: %w", id, err)
	}
	return f, nil
}

func (s *SQLiteStore) GetActiveFlow() (*models.Flow, error) {
	row := s.db.QueryRow(`SELECT ` + flowColumns + ` FROM flows WHERE active = 1 LIMIT 1`)
	f, err := scanFlowRow(row)
	if err != nil {
		slog.Error("SQLiteStore GetActiveFlow failed", "error", err)
		return nil, fmt.Errorf("failed to get active flow: %w", err)
	}
	return f, nil
}

func (s *SQLiteStore) GetFlowByTrigger(keyword string) (*models.Flow, error) {
	row := s.db.QueryRow(`SELECT `+flowColumns+` FROM flows WHERE trigger_keyword != '' AND LOWER(trigger_keyword) = LOWER(?) LIMIT 1`, keyword)
	f, err := scanFlowRow(row)
	if err != nil {
		slog.Error("SQLiteStore GetFlowByTrigger failed", "error", err, "keyword", keyword)
		return nil, fmt.Errorf("failed to get flow by trigger %q: %w", keyword, err)
	}
	return f, nil
}

func (s *SQLiteStore) ListFlows() ([]models.Flow, error) {
	rows, err := s.db.Query(`SELECT ` + flowColumns + ` FROM flows ORDER BY created_at DESC`)
	if err != nil {
		slog.Error("SQLiteStore ListFlows query failed", "error", err)
		return nil, fmt.Errorf("failed to query flows: %w", err)
	}
	defer rows.Close()
	var flows []models.Flow
	for rows.Next() {
		var f models.Flow
		var nodesJSON string
		if err := rows.Scan(&f.ID, &f.Name, &f.Description, &f.Active, &f.TriggerKeyword, &nodesJSON, &f.CreatedAt, &f.UpdatedAt); err != nil {
			slog.Error("SQLiteStore ListFlows scan failed", "error", err)
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
	slog.Debug("SQLiteStore ListFlows succeeded", "count", len(flows))
	return flows, nil
}

// ActivateFlow transactionally deactivates every flow and activates the one
// with the given id, preserving the at-most-one-active invariant.
func (s *SQLiteStore) ActivateFlow(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin activation transaction: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`UPDATE flows SET active = 0 WHERE active = 1`); err != nil {
		slog.Error("SQLiteStore ActivateFlow deactivate failed", "error", err)
		return fmt.Errorf("failed to deactivate flows: %w", err)
	}
	res, err := tx.Exec(`UPDATE flows SET active = 1, updated_at = ? WHERE id = ?`, time.Now(), id)
	if err != nil {
		slog.Error("SQLiteStore ActivateFlow failed", "error", err, "flowID", id)
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
	slog.Info("SQLiteStore ActivateFlow succeeded", "flowID", id)
	return nil
}

func (s *SQLiteStore) DeleteFlow(id string) error {
	count, err := s.CountContactsOnFlow(id)
	if err != nil {
		return err
	}
	if count > 0 {
		slog.Warn("SQLiteStore DeleteFlow refused, flow still referenced", "flowID", id, "contacts", count)
		return ErrFlowReferenced
	}
	res, err := s.db.Exec(`DELETE FROM flows WHERE id = ?`, id)
	if err != nil {
		slog.Error("SQLiteStore DeleteFlow failed", "error", err, "flowID", id)
		return fmt.Errorf("failed to delete flow %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return ErrFlowNotFound
	}
	slog.Debug("SQLiteStore DeleteFlow succeeded", "flowID", id)
	return nil
}

func (s *SQLiteStore) CountContactsOnFlow(flowID string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM contacts WHERE current_flow_id = ?`, flowID).Scan(&count)
	if err != nil {
		slog.Error("SQLiteStore CountContactsOnFlow failed", "error", err, "flowID", flowID)
		return 0, fmt.Errorf("failed to count contacts on flow %s: %w", flowID, err)
	}
	return count, nil
}

const contactColumns = `phone, name, current_flow_id, current_node_id, status, variables, tags, last_interaction_at, created_at, updated_at`

func (s *SQLiteStore) GetContact(phone string) (*models.Contact, error) {
	var c models.Contact
	var variablesJSON, tagsJSON string
	err := s.db.QueryRow(`SELECT `+contactColumns+` FROM contacts WHERE phone = ?`, phone).Scan(
		&c.Phone, &c.Name, &c.CurrentFlowID, &c.CurrentNodeID, &c.Status,
		&variablesJSON, &tagsJSON, &c.LastInteractionAt, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetContact failed", "error", err, "phone", phone)
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

func (s *SQLiteStore) SaveContact(c models.Contact) error {
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(phone) DO UPDATE SET
			name = excluded.name, current_flow_id = excluded.current_flow_id,
			current_node_id = excluded.current_node_id, status = excluded.status,
			variables = excluded.variables, tags = excluded.tags,
			last_interaction_at = excluded.last_interaction_at, updated_at = excluded.updated_at`,
		c.Phone, c.Name, c.CurrentFlowID, c.CurrentNodeID, c.Status,
		variablesJSON, tagsJSON, c.LastInteractionAt, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveContact failed", "error", err, "phone", c.Phone)
		return fmt.Errorf("failed to save contact %s: %w", c.Phone, err)
	}
	slog.Debug("SQLiteStore SaveContact succeeded", "phone", c.Phone, "status", c.Status, "node", c.CurrentNodeID)
	return nil
}

func (s *SQLiteStore) ListContacts(status string) ([]models.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY last_interaction_at DESC`
	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("SQLiteStore ListContacts query failed", "error", err)
		return nil, fmt.Errorf("failed to query contacts: %w", err)
	}
	defer rows.Close()
	var contacts []models.Contact
	for rows.Next() {
		var c models.Contact
		var variablesJSON, tagsJSON string
		if err := rows.Scan(&c.Phone, &c.Name, &c.CurrentFlowID, &c.CurrentNodeID, &c.Status,
			&variablesJSON, &tagsJSON, &c.LastInteractionAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
			slog.Error("SQLiteStore ListContacts scan failed", "error", err)
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

func (s *SQLiteStore) ResetAllContacts() error {
	_, err := s.db.Exec(`
		UPDATE contacts SET current_flow_id = '', current_node_id = '', status = 'BOT',
			variables = '{}', tags = '[]', updated_at = ?`, time.Now())
	if err != nil {
		slog.Error("SQLiteStore ResetAllContacts failed", "error", err)
		return fmt.Errorf("failed to reset contacts: %w", err)
	}
	slog.Info("SQLiteStore ResetAllContacts succeeded")
	return nil
}

func (s *SQLiteStore) AddMessage(m models.Message) error {
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ContactPhone, m.Direction, m.Content, m.Type, m.NodeID, m.ProviderMessageID, metadataJSON, m.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore AddMessage failed", "error", err, "phone", m.ContactPhone)
		return fmt.Errorf("failed to insert message for %s: %w", m.ContactPhone, err)
	}
	slog.Debug("SQLiteStore AddMessage succeeded", "phone", m.ContactPhone, "direction", m.Direction, "node", m.NodeID)
	return nil
}

func (s *SQLiteStore) ListMessages(phone string) ([]models.Message, error) {
	rows, err := s.db.Query(`
		SELECT id, contact_phone, direction, content, type, node_id, provider_message_id, metadata, created_at
		FROM messages WHERE contact_phone = ? ORDER BY created_at ASC`, phone)
	if err != nil {
		slog.Error("SQLiteStore ListMessages query failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()
	var messages []models.Message
	for rows.Next() {
		var m models.Message
		var metadataJSON string
		if err := rows.Scan(&m.ID, &m.ContactPhone, &m.Direction, &m.Content, &m.Type,
			&m.NodeID, &m.ProviderMessageID, &metadataJSON, &m.CreatedAt); err != nil {
			slog.Error("SQLiteStore ListMessages scan failed", "error", err)
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

func (s *SQLiteStore) AddNotificationRecipient(r models.NotificationRecipient) error {
	if r.ID == "" {
		r.ID = NewID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO notification_recipients (id, name, phone, enabled, created_at)
		VALUES (?, ?, ?, ?, ?)`, r.ID, r.Name, r.Phone, r.Enabled, r.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore AddNotificationRecipient failed", "error", err, "name", r.Name)
		return fmt.Errorf("failed to insert notification recipient: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListNotificationRecipients() ([]models.NotificationRecipient, error) {
	return s.listRecipients(`SELECT id, name, phone, enabled, created_at FROM notification_recipients ORDER BY created_at ASC`)
}

func (s *SQLiteStore) ListEnabledNotificationRecipients() ([]models.NotificationRecipient, error) {
	return s.listRecipients(`SELECT id, name, phone, enabled, created_at FROM notification_recipients WHERE enabled = 1 ORDER BY created_at ASC`)
}

func (s *SQLiteStore) listRecipients(query string) ([]models.NotificationRecipient, error) {
	rows, err := s.db.Query(query)
	if err != nil {
		slog.Error("SQLiteStore recipient query failed", "error", err)
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

func (s *SQLiteStore) DeleteNotificationRecipient(id string) error {
	_, err := s.db.Exec(`DELETE FROM notification_recipients WHERE id = ?`, id)
	if err != nil {
		slog.Error("SQLiteStore DeleteNotificationRecipient failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete notification recipient %s: %w", id, err)
	}
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}

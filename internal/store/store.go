// Package store provides storage backends for the triage bot.
//
// It includes an in-memory store used in tests and as a fallback, plus
// SQLite and PostgreSQL persistent stores.
package store

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gsPatrick/bot-medico-api/internal/models"
)

// Store is the persistence contract shared by all backends.
type Store interface {
	// Flows
	SaveFlow(f models.Flow) error
	GetFlow(id string) (*models.Flow, error)
	GetActiveFlow() (*models.Flow, error)
	GetFlowByTrigger(keyword string) (*models.Flow, error)
	ListFlows() ([]models.Flow, error)
	ActivateFlow(id string) error
	DeleteFlow(id string) error
	CountContactsOnFlow(flowID string) (int, error)

	// Contacts
	GetContact(phone string) (*models.Contact, error)
	SaveContact(c models.Contact) error
	ListContacts(status string) ([]models.Contact, error)
	ResetAllContacts() error

	// Audit log
	AddMessage(m models.Message) error
	ListMessages(phone string) ([]models.Message, error)

	// Notification recipients
	AddNotificationRecipient(r models.NotificationRecipient) error
	ListNotificationRecipients() ([]models.NotificationRecipient, error)
	ListEnabledNotificationRecipients() ([]models.NotificationRecipient, error)
	DeleteNotificationRecipient(id string) error

	Close() error
}

// Errors shared by all backends.
var (
	// ErrFlowNotFound is returned when a flow id does not exist.
	ErrFlowNotFound = fmt.Errorf("flow not found")
	// ErrFlowReferenced is returned when deleting a flow that contacts still reference.
	ErrFlowReferenced = fmt.Errorf("flow is referenced by existing contacts")
)

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithPostgresDSN sets a PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSQLiteDSN sets a SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType reports "postgres" for PostgreSQL-style connection strings
// and "sqlite" for anything else (assumed to be a file path).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// NewID returns a fresh identifier for stored entities.
func NewID() string {
	return uuid.NewString()
}

// InMemoryStore is a mutex-guarded in-memory Store used in tests and when no
// database DSN is configured.
type InMemoryStore struct {
	mu         sync.RWMutex
	flows      map[string]models.Flow
	contacts   map[string]models.Contact
	messages   []models.Message
	recipients map[string]models.NotificationRecipient
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		flows:      make(map[string]models.Flow),
		contacts:   make(map[string]models.Contact),
		recipients: make(map[string]models.NotificationRecipient),
	}
}

func (s *InMemoryStore) SaveFlow(f models.Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.ID == "" {
		f.ID = NewID()
	}
	now := time.Now()
	if existing, ok := s.flows[f.ID]; ok {
		f.CreatedAt = existing.CreatedAt
	} else {
		f.CreatedAt = now
	}
	f.UpdatedAt = now
	if f.Active {
		for id, other := range s.flows {
			if other.Active && id != f.ID {
				other.Active = false
				s.flows[id] = other
			}
		}
	}
	s.flows[f.ID] = f
	return nil
}

func (s *InMemoryStore) GetFlow(id string) (*models.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if f, ok := s.flows[id]; ok {
		return &f, nil
	}
	return nil, nil
}

func (s *InMemoryStore) GetActiveFlow() (*models.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, f := range s.flows {
		if f.Active {
			return &f, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) GetFlowByTrigger(keyword string) (*models.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, f := range s.flows {
		if f.TriggerKeyword != "" && strings.EqualFold(f.TriggerKeyword, keyword) {
			return &f, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) ListFlows() ([]models.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	flows := make([]models.Flow, 0, len(s.flows))
	for _, f := range s.flows {
		flows = append(flows, f)
	}
	sort.Slice(flows, func(i, j int) bool { return flows[i].CreatedAt.After(flows[j].CreatedAt) })
	return flows, nil
}

// ActivateFlow marks the given flow as the single active flow: every other
// flow is deactivated in the same critical section.
func (s *InMemoryStore) ActivateFlow(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.flows[id]
	if !ok {
		return ErrFlowNotFound
	}
	for fid, f := range s.flows {
		if f.Active {
			f.Active = false
			s.flows[fid] = f
		}
	}
	target.Active = true
	target.UpdatedAt = time.Now()
	s.flows[id] = target
	return nil
}

func (s *InMemoryStore) DeleteFlow(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.flows[id]; !ok {
		return ErrFlowNotFound
	}
	for _, c := range s.contacts {
		if c.CurrentFlowID == id {
			return ErrFlowReferenced
		}
	}
	delete(s.flows, id)
	return nil
}

func (s *InMemoryStore) CountContactsOnFlow(flowID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, c := range s.contacts {
		if c.CurrentFlowID == flowID {
			count++
		}
	}
	return count, nil
}

func (s *InMemoryStore) GetContact(phone string) (*models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.contacts[phone]; ok {
		return &c, nil
	}
	return nil, nil
}

func (s *InMemoryStore) SaveContact(c models.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if existing, ok := s.contacts[c.Phone]; ok {
		c.CreatedAt = existing.CreatedAt
	} else {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	s.contacts[c.Phone] = c
	return nil
}

func (s *InMemoryStore) ListContacts(status string) ([]models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	contacts := make([]models.Contact, 0, len(s.contacts))
	for _, c := range s.contacts {
		if status != "" && string(c.Status) != status {
			continue
		}
		contacts = append(contacts, c)
	}
	sort.Slice(contacts, func(i, j int) bool {
		return contacts[i].LastInteractionAt.After(contacts[j].LastInteractionAt)
	})
	return contacts, nil
}

// ResetAllContacts returns every contact to a fresh BOT state, clearing flow
// position, variables and tags.
func (s *InMemoryStore) ResetAllContacts() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for phone, c := range s.contacts {
		c.CurrentFlowID = ""
		c.CurrentNodeID = ""
		c.Status = models.ContactStatusBot
		c.Variables = map[string]string{}
		c.Tags = []string{}
		c.UpdatedAt = time.Now()
		s.contacts[phone] = c
	}
	return nil
}

func (s *InMemoryStore) AddMessage(m models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = NewID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	s.messages = append(s.messages, m)
	return nil
}

func (s *InMemoryStore) ListMessages(phone string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Message
	for _, m := range s.messages {
		if m.ContactPhone == phone {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *InMemoryStore) AddNotificationRecipient(r models.NotificationRecipient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = NewID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	s.recipients[r.ID] = r
	return nil
}

func (s *InMemoryStore) ListNotificationRecipients() ([]models.NotificationRecipient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.NotificationRecipient, 0, len(s.recipients))
	for _, r := range s.recipients {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) ListEnabledNotificationRecipients() ([]models.NotificationRecipient, error) {
	all, err := s.ListNotificationRecipients()
	if err != nil {
		return nil, err
	}
	var enabled []models.NotificationRecipient
	for _, r := range all {
		if r.Enabled {
			enabled = append(enabled, r)
		}
	}
	return enabled, nil
}

func (s *InMemoryStore) DeleteNotificationRecipient(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recipients, id)
	return nil
}

func (s *InMemoryStore) Close() error { return nil }

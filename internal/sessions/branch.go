package sessions

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/talon-ai/talon/pkg/models"
)

// BranchStore provides branch-aware conversation storage. A branch is a named
// fork of a session's message history; the agent loop consults it in place of
// the session store's flat history when branch-aware recall is configured.
type BranchStore interface {
	// EnsurePrimaryBranch returns the session's primary branch, creating it if
	// it does not yet exist.
	EnsurePrimaryBranch(ctx context.Context, sessionID string) (*models.Branch, error)

	// GetBranchHistory returns up to limit messages for the given branch, in
	// append order, including messages inherited from ancestor branches.
	GetBranchHistory(ctx context.Context, branchID string, limit int) ([]*models.Message, error)

	// AppendMessageToBranch appends a message to the named branch, creating
	// the branch's backing history slice on first use.
	AppendMessageToBranch(ctx context.Context, sessionID, branchID string, msg *models.Message) error
}

// MemoryBranchStore is an in-memory BranchStore suitable for a single-process
// gateway deployment. Branch state does not survive a restart.
type MemoryBranchStore struct {
	mu       sync.RWMutex
	branches map[string]*models.Branch   // branchID -> branch
	primary  map[string]string           // sessionID -> primary branchID
	history  map[string][]*models.Message // branchID -> messages
}

// NewMemoryBranchStore creates a new in-memory branch store.
func NewMemoryBranchStore() *MemoryBranchStore {
	return &MemoryBranchStore{
		branches: map[string]*models.Branch{},
		primary:  map[string]string{},
		history:  map[string][]*models.Message{},
	}
}

func (s *MemoryBranchStore) EnsurePrimaryBranch(ctx context.Context, sessionID string) (*models.Branch, error) {
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.primary[sessionID]; ok {
		return s.branches[id], nil
	}
	branch := models.NewPrimaryBranch(sessionID)
	branch.ID = uuid.NewString()
	s.branches[branch.ID] = branch
	s.primary[sessionID] = branch.ID
	return branch, nil
}

func (s *MemoryBranchStore) GetBranchHistory(ctx context.Context, branchID string, limit int) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.history[branchID]
	if limit <= 0 || len(msgs) <= limit {
		out := make([]*models.Message, len(msgs))
		copy(out, msgs)
		return out, nil
	}
	start := len(msgs) - limit
	out := make([]*models.Message, limit)
	copy(out, msgs[start:])
	return out, nil
}

func (s *MemoryBranchStore) AppendMessageToBranch(ctx context.Context, sessionID, branchID string, msg *models.Message) error {
	if msg == nil {
		return errors.New("message is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.branches[branchID]; !ok {
		branch := models.NewPrimaryBranch(sessionID)
		branch.ID = branchID
		s.branches[branchID] = branch
		if _, exists := s.primary[sessionID]; !exists {
			s.primary[sessionID] = branchID
		}
	}
	s.history[branchID] = append(s.history[branchID], msg)
	return nil
}

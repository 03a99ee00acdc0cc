package lifecycle

import (
	"sync"
	"time"

	"github.com/vultisig/convo-backend/internal/types"
)

// State is the ephemeral, per-chat state. It is never persisted and starts
// empty after a restart.
type State struct {
	mu sync.Mutex

	active *types.Conversation
	timer  *time.Timer
	// generation identifies the most recently armed timer. A timer callback
	// whose generation no longer matches has been superseded and must not act.
	generation uint64

	pendingModeTitle *string
	editingMode      *types.ConversationMode
}

// SetPendingModeTitle remembers the title of a mode whose prompt is awaited.
func (s *State) SetPendingModeTitle(title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingModeTitle = &title
	s.editingMode = nil
}

// TakePendingModeTitle returns and clears the awaited mode title.
func (s *State) TakePendingModeTitle() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingModeTitle == nil {
		return "", false
	}
	title := *s.pendingModeTitle
	s.pendingModeTitle = nil
	return title, true
}

// SetEditingMode remembers the mode whose new prompt is awaited.
func (s *State) SetEditingMode(mode *types.ConversationMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.editingMode = mode
	s.pendingModeTitle = nil
}

// TakeEditingMode returns and clears the mode being edited.
func (s *State) TakeEditingMode() *types.ConversationMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	mode := s.editingMode
	s.editingMode = nil
	return mode
}

// AwaitingModeInput reports whether the next text is a mode prompt rather
// than a chat message.
func (s *State) AwaitingModeInput() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingModeTitle != nil || s.editingMode != nil
}

// stopTimerLocked cancels the outstanding timer and invalidates any callback
// that already fired but has not yet taken the lock.
func (s *State) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.generation++
}

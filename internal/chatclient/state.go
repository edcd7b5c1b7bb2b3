package chatclient

import (
	"slices"
	"sync"

	"helphub/internal/conversation"
	"helphub/internal/models"
)

// State is what a session has learned: the conversation list, the open
// history, unread counters, typing and presence. Messages are merged by id,
// so a message delivered by both the socket and a REST response appears once.
type State struct {
	mu sync.RWMutex

	me   uint
	open uint

	history       []*models.Message
	conversations []models.ConversationView
	unreadTotal   int64

	// ids already counted as unread
	counted map[uint]struct{}
	typing  map[uint]bool
	online  map[uint]bool
}

// NewState returns empty state for user me.
func NewState(me uint) *State {
	return &State{
		me:      me,
		counted: make(map[uint]struct{}),
		typing:  make(map[uint]bool),
		online:  make(map[uint]bool),
	}
}

// Me returns the user this state belongs to.
func (s *State) Me() uint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.me
}

// Reset forgets everything and rebinds the state to user me.
func (s *State) Reset(me uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.me = me
	s.open = 0
	s.history = nil
	s.conversations = nil
	s.unreadTotal = 0
	s.counted = make(map[uint]struct{})
	s.typing = make(map[uint]bool)
	s.online = make(map[uint]bool)
}

// OpenConversation makes counterpart the open conversation and clears its
// unread count. History of a previously open conversation is dropped.
func (s *State) OpenConversation(counterpart uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open != counterpart {
		s.history = nil
	}
	s.open = counterpart
	s.clearUnreadLocked(counterpart)
}

// CloseConversation clears the open conversation.
func (s *State) CloseConversation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = 0
	s.history = nil
}

// Open returns the counterpart of the open conversation, or zero.
func (s *State) Open() uint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.open
}

// ApplyMessage routes a message into the open history when it belongs there;
// otherwise it moves its conversation to the top and counts it unread unless
// I sent it. Applying the same message twice changes nothing.
func (s *State) ApplyMessage(msg *models.Message) {
	if msg == nil || msg.ID == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !msg.Involves(s.me) {
		return
	}

	counterpart := msg.Counterpart(s.me)
	if s.open != 0 && counterpart == s.open {
		s.history = mergeMessages(s.history, msg)
		s.touchConversationLocked(msg, counterpart, false)
		return
	}
	s.touchConversationLocked(msg, counterpart, msg.SenderID != s.me)
}

// MergeHistory merges fetched messages into the open history.
func (s *State) MergeHistory(msgs []*models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range msgs {
		if m == nil || m.Counterpart(s.me) != s.open {
			continue
		}
		s.history = mergeMessages(s.history, m)
	}
}

// History returns a copy of the open history, oldest first.
func (s *State) History() []*models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.history)
}

// SetConversations replaces the conversation list and unread total with what
// the server reported.
func (s *State) SetConversations(views []models.ConversationView, unreadTotal int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = slices.Clone(views)
	s.unreadTotal = unreadTotal
	for _, v := range views {
		s.online[v.OtherUser.ID] = v.OtherUser.Online
	}
}

// Conversations returns a copy of the conversation list, most recent first.
func (s *State) Conversations() []models.ConversationView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.conversations)
}

// UnreadTotal is the sum of unread messages across conversations.
func (s *State) UnreadTotal() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unreadTotal
}

// SetTyping records whether counterpart is typing to me.
func (s *State) SetTyping(counterpart uint, typing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if typing {
		s.typing[counterpart] = true
	} else {
		delete(s.typing, counterpart)
	}
}

// IsTyping reports whether counterpart is typing.
func (s *State) IsTyping(counterpart uint) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.typing[counterpart]
}

// SetOnline records a presence transition.
func (s *State) SetOnline(userID uint, online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online[userID] = online
	for i := range s.conversations {
		if s.conversations[i].OtherUser.ID == userID {
			s.conversations[i].OtherUser.Online = online
		}
	}
}

// IsOnline reports the last known presence of userID.
func (s *State) IsOnline(userID uint) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.online[userID]
}

// MarkReadByPeer flags my messages to reader as read after a read receipt.
func (s *State) MarkReadByPeer(reader uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// history entries are replaced, not mutated, since History hands out the pointers
	for i, m := range s.history {
		if m.SenderID == s.me && m.ReceiverID == reader && !m.IsRead {
			read := *m
			read.IsRead = true
			s.history[i] = &read
		}
	}
	for i := range s.conversations {
		v := &s.conversations[i]
		if v.OtherUser.ID == reader && v.LastMessage.SenderID == s.me {
			v.LastMessage.IsRead = true
		}
	}
}

func (s *State) touchConversationLocked(msg *models.Message, counterpart uint, unread bool) {
	_, seen := s.counted[msg.ID]
	if unread && !seen {
		s.counted[msg.ID] = struct{}{}
	} else {
		unread = false
	}

	idx := slices.IndexFunc(s.conversations, func(v models.ConversationView) bool {
		return v.OtherUser.ID == counterpart
	})
	var view models.ConversationView
	if idx >= 0 {
		view = s.conversations[idx]
		s.conversations = slices.Delete(s.conversations, idx, idx+1)
	} else {
		view = models.ConversationView{
			ConversationID: conversation.Key(s.me, counterpart),
			OtherUser:      models.UserSummary{ID: counterpart, Online: s.online[counterpart]},
		}
	}
	if !msg.CreatedAt.Before(view.LastMessage.CreatedAt) {
		view.LastMessage = msg.Snapshot()
	}
	if unread {
		view.UnreadCount++
		s.unreadTotal++
	}
	s.conversations = slices.Insert(s.conversations, 0, view)
}

func (s *State) clearUnreadLocked(counterpart uint) {
	for i := range s.conversations {
		v := &s.conversations[i]
		if v.OtherUser.ID == counterpart {
			s.unreadTotal -= v.UnreadCount
			if s.unreadTotal < 0 {
				s.unreadTotal = 0
			}
			v.UnreadCount = 0
		}
	}
}

// mergeMessages inserts or replaces msg by id and keeps (createdAt, id) order.
func mergeMessages(list []*models.Message, msg *models.Message) []*models.Message {
	if i := slices.IndexFunc(list, func(m *models.Message) bool { return m.ID == msg.ID }); i >= 0 {
		list[i] = msg
		return list
	}
	i, _ := slices.BinarySearchFunc(list, msg, compareMessages)
	return slices.Insert(list, i, msg)
}

func compareMessages(a, b *models.Message) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}

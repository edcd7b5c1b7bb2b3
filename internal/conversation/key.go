// Package conversation derives conversation keys and realtime room names.
//
// Every place that needs to identify the conversation between two users
// (message persistence, websocket rooms, aggregation, clients) goes through
// this package so the rule is defined exactly once.
package conversation

import (
	"fmt"
	"strconv"
	"strings"
)

// Separator joins the two participant ids of a conversation key.
const Separator = "-"

const userRoomPrefix = "user-"

// Key returns the conversation key for the unordered pair {a, b}. Ids are
// compared as decimal strings so the key is independent of argument order.
func Key(a, b uint) string {
	x := strconv.FormatUint(uint64(a), 10)
	y := strconv.FormatUint(uint64(b), 10)
	if y < x {
		x, y = y, x
	}
	return x + Separator + y
}

// UserRoom returns the personal room of a user.
func UserRoom(userID uint) string {
	return userRoomPrefix + strconv.FormatUint(uint64(userID), 10)
}

// IsUserRoom reports whether room is a personal room and returns its owner.
func IsUserRoom(room string) (uint, bool) {
	if !strings.HasPrefix(room, userRoomPrefix) {
		return 0, false
	}
	id, err := strconv.ParseUint(strings.TrimPrefix(room, userRoomPrefix), 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// Participants parses a conversation key back into its two ids.
func Participants(key string) (uint, uint, error) {
	parts := strings.Split(key, Separator)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid conversation key %q", key)
	}
	a, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid conversation key %q: %w", key, err)
	}
	b, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid conversation key %q: %w", key, err)
	}
	return uint(a), uint(b), nil
}

// Other returns the participant of key that is not me.
func Other(key string, me uint) (uint, bool) {
	a, b, err := Participants(key)
	if err != nil {
		return 0, false
	}
	switch me {
	case a:
		return b, true
	case b:
		return a, true
	}
	return 0, false
}

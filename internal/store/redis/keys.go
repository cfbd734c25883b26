package redis

import (
	"fmt"
	"strings"
)

const (
	// KeyPrefixRoom is the prefix for room snapshot hashes
	KeyPrefixRoom = "fedcheck:room:"
	// KeyAllRooms is the key for the set of all persisted room IDs
	KeyAllRooms = "fedcheck:rooms:all"
)

// RoomKey returns the Redis key of a room's snapshot hash
func RoomKey(room string) string {
	return KeyPrefixRoom + room
}

// AllRoomsKey returns the key for the set of all room IDs
func AllRoomsKey() string {
	return KeyAllRooms
}

// ExtractRoomID extracts the room ID from a Redis key
func ExtractRoomID(key string) (string, error) {
	if !strings.HasPrefix(key, KeyPrefixRoom) || len(key) == len(KeyPrefixRoom) {
		return "", fmt.Errorf("invalid room key: %s", key)
	}
	return key[len(KeyPrefixRoom):], nil
}

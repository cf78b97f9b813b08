package utils

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Stream record ids must stay unique across a participant restarting sharing
// without the old record being torn down first, so they combine the stable
// participant id, the ephemeral socket id, the creation timestamp and a random
// suffix, optionally salted with the native media stream's own id.
//
// Shape: stream_<participantId>_<socketId>_<unixMillis>_<random>[_<mediaId>]

var streamIDPattern = regexp.MustCompile(`^stream_[\w]+_[\w-]+_\d+_[\w]+(_[\w]+)?$`)

// GenerateStreamID builds a unique stream record id.
func GenerateStreamID(participantID, socketID, mediaStreamID string) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	suffix := ""
	if mediaStreamID != "" {
		mediaID := strings.ReplaceAll(mediaStreamID, "-", "")
		if len(mediaID) > 8 {
			mediaID = mediaID[:8]
		}
		suffix = "_" + mediaID
	}
	return fmt.Sprintf("stream_%s_%s_%d_%s%s",
		participantID, socketID, time.Now().UnixMilli(), random, suffix)
}

// IsValidStreamID reports whether the id matches the generated shape.
func IsValidStreamID(id string) bool {
	return streamIDPattern.MatchString(id)
}

// StreamIDParts is the information recoverable from a stream record id.
type StreamIDParts struct {
	ParticipantID string
	SocketID      string
	Timestamp     time.Time
}

// ParseStreamID extracts the embedded fields from a stream record id.
func ParseStreamID(id string) (StreamIDParts, error) {
	if !IsValidStreamID(id) {
		return StreamIDParts{}, fmt.Errorf("malformed stream id: %q", id)
	}

	parts := strings.Split(id, "_")
	millis, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return StreamIDParts{}, fmt.Errorf("malformed stream id timestamp: %q", id)
	}

	return StreamIDParts{
		ParticipantID: parts[1],
		SocketID:      parts[2],
		Timestamp:     time.UnixMilli(millis),
	}, nil
}

// GenerateSocketID produces a fresh connection identifier for the relay
// server to hand out.
func GenerateSocketID() string {
	return uuid.NewString()
}

package domain

import "sort"

// ChannelBinding maps bus channel names to the event type they carry.
type ChannelBinding map[string]EventType

// DefaultChannelBinding returns the channels the relay subscribes to.
// FriendAccepted, FriendDenied and VideoCorrected have no channel yet.
func DefaultChannelBinding() ChannelBinding {
	return ChannelBinding{
		"friend-request": EventFriendRequest,
		"chat":           EventChat,
	}
}

// Resolve returns the event type bound to channel.
func (b ChannelBinding) Resolve(channel string) (EventType, bool) {
	t, ok := b[channel]
	return t, ok
}

// Channels returns the bound channel names in sorted order.
func (b ChannelBinding) Channels() []string {
	channels := make([]string, 0, len(b))
	for name := range b {
		channels = append(channels, name)
	}
	sort.Strings(channels)
	return channels
}

package devserver

import (
	"fmt"
	"time"

	lkauth "github.com/livekit/protocol/auth"

	"github.com/velora-app/callkit/internal/proto"
)

// joinTokenMinter issues LiveKit room join tokens for call participants.
type joinTokenMinter struct {
	apiKey    string
	apiSecret string
	wsURL     string
}

// newJoinTokenMinter returns nil when the LiveKit credentials are not
// configured, which disables join info on call events.
func newJoinTokenMinter(wsURL, apiKey, apiSecret string) *joinTokenMinter {
	if wsURL == "" || apiKey == "" || apiSecret == "" {
		return nil
	}
	return &joinTokenMinter{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		wsURL:     wsURL,
	}
}

// Mint creates join credentials for userID to join the call's media room.
// LiveKit creates rooms on demand when the first participant joins, so the
// room name is derived from the call id.
func (m *joinTokenMinter) Mint(c *call, userID int64, fullName string) (*proto.CallJoinInfo, error) {
	roomName := fmt.Sprintf("velora-%s-%s", c.callType, c.id)
	identity := fmt.Sprintf("user-%d", userID)

	at := lkauth.NewAccessToken(m.apiKey, m.apiSecret)
	grant := &lkauth.VideoGrant{
		RoomJoin: true,
		Room:     roomName,
	}
	at.SetVideoGrant(grant).
		SetIdentity(identity).
		SetName(fullName).
		SetValidFor(time.Hour)

	token, err := at.ToJWT()
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	return &proto.CallJoinInfo{
		URL:      m.wsURL,
		Token:    token,
		RoomName: roomName,
		Identity: identity,
	}, nil
}

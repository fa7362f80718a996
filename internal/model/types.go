package model

import (
	"encoding/json"
	"time"
)

// OAuthToken is the bearer credential pair for the vendor cloud. ExpiresAt
// is an absolute epoch second and is always recomputed from the issue time
// and the server-reported lifetime when the token is saved; it is never
// taken from a grant response as-is.
type OAuthToken struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
}

func (t OAuthToken) Expired(now time.Time) bool {
	return now.Unix() >= t.ExpiresAt
}

// PushCredentials is the device push identity obtained from the provider.
// Registered once, persisted, and reused across restarts; replaced only by
// re-registration.
type PushCredentials struct {
	DeviceToken   string `json:"device_token"`
	AndroidID     int64  `json:"android_id"`
	SecurityToken int64  `json:"security_token"`
}

type AccessID struct {
	Block    int `json:"block"`
	Subblock int `json:"subblock"`
	Number   int `json:"number"`
}

type AccessDoor struct {
	Title    string   `json:"title"`
	AccessID AccessID `json:"accessId"`
	Visible  bool     `json:"visible"`
}

// Pairing is a registered intercom device and its unlockable doors. Fetched
// fresh on every listener startup, never persisted.
type Pairing struct {
	DeviceID      string                `json:"deviceId"`
	Tag           string                `json:"tag"`
	AccessDoorMap map[string]AccessDoor `json:"accessDoorMap"`
}

// CallRecord is one entry of the vendor's call registry for a device.
type CallRecord struct {
	ID       string `json:"id"`
	PhotoID  string `json:"photoId"`
	CallDate int64  `json:"callDate"`
}

// NotificationKind is the vendor notification type, decoded exactly once at
// the push boundary. Anything that is not a call keeps its raw type string.
type NotificationKind struct {
	Call bool
	Raw  string
}

const notificationTypeCall = "Call"

func ParseNotificationKind(raw string) NotificationKind {
	return NotificationKind{Call: raw == notificationTypeCall, Raw: raw}
}

// Notification is a decoded vendor push payload.
type Notification struct {
	Kind            NotificationKind
	PersistentID    string
	RoomID          string
	SocketURL       string
	PhotoID         string
	FCMMessageID    string
	SendAcknowledge bool
	Raw             map[string]string
}

// Vendor payload keys.
const (
	keyNotificationType = "FermaxNotificationType"
	keyRoomID           = "RoomId"
	keySocketURL        = "SocketUrl"
	keyPhotoID          = "photoId"
	keyFCMMessageID     = "fcmMessageId"
	keySendAcknowledge  = "SendAcknowledge"
)

// DecodeNotification maps a raw push message's key/value payload into a
// Notification. persistentID is the provider-assigned delivery id used for
// dedup; it is distinct from the vendor's own fcmMessageId used for acks.
func DecodeNotification(persistentID string, data map[string]string) Notification {
	n := Notification{
		Kind:            ParseNotificationKind(data[keyNotificationType]),
		PersistentID:    persistentID,
		RoomID:          data[keyRoomID],
		SocketURL:       data[keySocketURL],
		PhotoID:         data[keyPhotoID],
		FCMMessageID:    data[keyFCMMessageID],
		SendAcknowledge: data[keySendAcknowledge] == "true",
		Raw:             data,
	}
	if n.FCMMessageID == "" {
		n.FCMMessageID = persistentID
	}
	return n
}

// MarshalPayload renders the raw payload for logging and bus consumers.
func (n Notification) MarshalPayload() []byte {
	b, err := json.Marshal(n.Raw)
	if err != nil {
		return nil
	}
	return b
}

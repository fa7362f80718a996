// Package snapshot maintains the doorbell's latest still image. Call
// notifications trigger a live WebRTC capture; everything else falls back to
// the photo the station uploaded to the cloud call registry.
package snapshot

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"duoxme-bridge/internal/bus"
	"duoxme-bridge/internal/model"
	"duoxme-bridge/internal/webrtc"
)

type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
}

type PhotoAPI interface {
	CallRegistry(ctx context.Context, accessToken, appToken string) ([]model.CallRecord, error)
	Photo(ctx context.Context, accessToken, photoID string) ([]byte, error)
}

type FrameCapturer interface {
	CaptureFrame(ctx context.Context, roomID, socketURL, authToken, appToken string) ([]byte, error)
}

const (
	defaultPhotoDelay     = 5 * time.Second
	defaultCaptureTimeout = 45 * time.Second
)

// Source consumes decoded notifications from the dispatcher and keeps the
// most recent JPEG. A failed capture never discards the previous image.
type Source struct {
	session  TokenProvider
	api      PhotoAPI
	capturer FrameCapturer

	dispatcher *bus.Dispatcher
	appToken   func() string

	photoDelay     time.Duration
	captureTimeout time.Duration

	mu      sync.RWMutex
	latest  []byte
	takenAt time.Time
	ring    bool
	ringAt  time.Time

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type Deps struct {
	Session    TokenProvider
	API        PhotoAPI
	Capturer   FrameCapturer
	Dispatcher *bus.Dispatcher

	// AppToken returns the push device token identifying this bridge to the
	// call registry. Empty until the listener is ready.
	AppToken func() string
}

func New(deps Deps) *Source {
	return &Source{
		session:        deps.Session,
		api:            deps.API,
		capturer:       deps.Capturer,
		dispatcher:     deps.Dispatcher,
		appToken:       deps.AppToken,
		photoDelay:     defaultPhotoDelay,
		captureTimeout: defaultCaptureTimeout,
		stop:           make(chan struct{}),
	}
}

// Start subscribes to notification events and processes them until Stop.
func (s *Source) Start() {
	id, ch := s.dispatcher.Subscribe(bus.SignalNotificationReceived)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.dispatcher.Unsubscribe(bus.SignalNotificationReceived, id)
		for {
			select {
			case payload := <-ch:
				n, ok := payload.(model.Notification)
				if !ok {
					continue
				}
				s.handle(n)
			case <-s.stop:
				return
			}
		}
	}()
}

func (s *Source) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}

// Latest returns the current snapshot, its capture time and whether one
// exists yet.
func (s *Source) Latest() ([]byte, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return nil, time.Time{}, false
	}
	return s.latest, s.takenAt, true
}

// Ring reports whether the doorbell is considered ringing: a call produced
// an image and no later non-call notification has cleared it.
func (s *Source) Ring() (bool, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ring, s.ringAt
}

func (s *Source) handle(n model.Notification) {
	if !n.Kind.Call {
		s.setRing(false)
		s.fetchRegistryPhoto(n)
		return
	}
	if n.RoomID != "" && n.SocketURL != "" {
		s.captureLive(n)
		return
	}
	s.fetchRegistryPhoto(n)
}

func (s *Source) captureLive(n model.Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), s.captureTimeout)
	defer cancel()

	token, err := s.session.AccessToken(ctx)
	if err != nil {
		log.Printf("snapshot: no access token for capture: %v", err)
		return
	}
	frame, err := s.capturer.CaptureFrame(ctx, n.RoomID, n.SocketURL, token, s.appToken())
	if err != nil {
		if errors.Is(err, webrtc.ErrCaptureInFlight) {
			log.Printf("snapshot: capture already running, skipping room %s", n.RoomID)
			return
		}
		log.Printf("snapshot: live capture failed, keeping previous image: %v", err)
		return
	}
	s.setLatest(frame)
	s.setRing(true)
	s.dispatcher.Publish(bus.SignalCallCaptured, n)
	log.Printf("snapshot: captured live frame (%d bytes)", len(frame))
}

// fetchRegistryPhoto waits for the station to upload its auto-photo, then
// pulls the newest registry entry. A photo id embedded in the notification
// skips the registry lookup.
func (s *Source) fetchRegistryPhoto(n model.Notification) {
	select {
	case <-time.After(s.photoDelay):
	case <-s.stop:
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	token, err := s.session.AccessToken(ctx)
	if err != nil {
		log.Printf("snapshot: no access token for photo fetch: %v", err)
		return
	}

	photoID := n.PhotoID
	if photoID == "" {
		records, err := s.api.CallRegistry(ctx, token, s.appToken())
		if err != nil {
			log.Printf("snapshot: call registry fetch failed: %v", err)
			return
		}
		photoID = latestPhotoID(records)
		if photoID == "" {
			log.Printf("snapshot: call registry has no photos")
			return
		}
	}

	photo, err := s.api.Photo(ctx, token, photoID)
	if err != nil {
		log.Printf("snapshot: photo %s fetch failed: %v", photoID, err)
		return
	}
	s.setLatest(photo)
	if n.Kind.Call {
		s.setRing(true)
		s.dispatcher.Publish(bus.SignalCallCaptured, n)
	}
	log.Printf("snapshot: fetched registry photo %s (%d bytes)", photoID, len(photo))
}

func (s *Source) setLatest(b []byte) {
	s.mu.Lock()
	s.latest = b
	s.takenAt = time.Now()
	s.mu.Unlock()
}

func (s *Source) setRing(on bool) {
	s.mu.Lock()
	if s.ring != on {
		s.ring = on
		s.ringAt = time.Now()
	}
	s.mu.Unlock()
}

func latestPhotoID(records []model.CallRecord) string {
	sorted := make([]model.CallRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].CallDate > sorted[j].CallDate })
	for _, rec := range sorted {
		if rec.PhotoID != "" {
			return rec.PhotoID
		}
	}
	return ""
}

package push

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"duoxme-bridge/internal/bus"
	"duoxme-bridge/internal/cloud"
	"duoxme-bridge/internal/config"
	"duoxme-bridge/internal/model"
	"duoxme-bridge/internal/oauth"
	"duoxme-bridge/internal/storage"
)

const storageKeyPersistentIDs = "persistent_ids"

type State int

const (
	StateStopped State = iota
	StateStarting
	StateReady
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

var errAlreadyStarted = errors.New("listener already started")

// Listener owns the push channel for one account: it provisions the device
// push identity, activates the vendor-side registration, runs the blocking
// receive loop on its own goroutine, deduplicates deliveries by persistent
// id, and republishes decoded notifications on the dispatcher.
type Listener struct {
	session    *oauth.SessionManager
	api        *cloud.Client
	store      *storage.Store
	dispatcher *bus.Dispatcher
	registrar  *Registrar
	fcmConfig  config.FCMConfig

	// newReceiver builds the blocking receive primitive once credentials
	// exist. Swappable for tests.
	newReceiver func(model.PushCredentials) Receiver

	mu        sync.Mutex
	state     State
	creds     model.PushCredentials
	processed map[string]struct{}
	pairings  []model.Pairing
	receiver  Receiver

	ready     chan struct{}
	readyOnce sync.Once
}

type ListenerDeps struct {
	Session    *oauth.SessionManager
	API        *cloud.Client
	Store      *storage.Store
	Dispatcher *bus.Dispatcher
	Registrar  *Registrar
	FCMConfig  config.FCMConfig

	// NewReceiver defaults to the MCS receiver when nil.
	NewReceiver func(model.PushCredentials) Receiver
}

func NewListener(deps ListenerDeps) *Listener {
	newReceiver := deps.NewReceiver
	if newReceiver == nil {
		newReceiver = func(creds model.PushCredentials) Receiver {
			return NewMCSReceiver(creds)
		}
	}
	return &Listener{
		session:     deps.Session,
		api:         deps.API,
		store:       deps.Store,
		dispatcher:  deps.Dispatcher,
		registrar:   deps.Registrar,
		fcmConfig:   deps.FCMConfig,
		newReceiver: newReceiver,
		processed:   make(map[string]struct{}),
		ready:       make(chan struct{}),
	}
}

func (l *Listener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Ready is closed once startup completed and the receive loop is about to
// run.
func (l *Listener) Ready() <-chan struct{} {
	return l.ready
}

func (l *Listener) Pairings() []model.Pairing {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.Pairing, len(l.pairings))
	copy(out, l.pairings)
	return out
}

// DeviceToken is the push identity the vendor knows this listener by; it
// doubles as the appToken for the call registry and signaling join.
func (l *Listener) DeviceToken() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.creds.DeviceToken
}

// Start runs the startup sequence and, on success, launches the receive
// loop. Any startup failure is fatal and leaves the listener stopped.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.state != StateStopped {
		l.mu.Unlock()
		return errAlreadyStarted
	}
	l.state = StateStarting
	l.mu.Unlock()

	if err := l.setup(ctx); err != nil {
		l.setState(StateStopped)
		return err
	}

	l.setState(StateReady)
	l.readyOnce.Do(func() { close(l.ready) })
	l.dispatcher.Publish(bus.SignalListenerReady, nil)
	log.Printf("push: listener ready")

	receiver := l.newReceiver(l.creds)
	l.mu.Lock()
	l.receiver = receiver
	l.state = StateRunning
	l.mu.Unlock()

	go l.receiveLoop(receiver)
	return nil
}

func (l *Listener) setup(ctx context.Context) error {
	creds, err := EnsureCredentials(ctx, l.store, l.registrar, l.fcmConfig)
	if err != nil {
		return fmt.Errorf("provisioning push credentials: %w", err)
	}

	processed, err := loadProcessedIDs(l.store)
	if err != nil {
		return fmt.Errorf("loading processed ids: %w", err)
	}

	if err := l.session.EnsureValidToken(ctx); err != nil {
		return fmt.Errorf("authenticating: %w", err)
	}
	token, err := l.session.AccessToken(ctx)
	if err != nil {
		return err
	}

	pairings, err := l.api.Pairings(ctx, token)
	if err != nil {
		return err
	}

	if err := l.api.RegisterPushToken(ctx, token, creds.DeviceToken, true); err != nil {
		return fmt.Errorf("activating push channel: %w", err)
	}

	l.mu.Lock()
	l.creds = creds
	l.processed = processed
	l.pairings = pairings
	l.mu.Unlock()
	return nil
}

func (l *Listener) receiveLoop(receiver Receiver) {
	log.Printf("push: listening for incoming notifications")
	err := receiver.Listen(l.handleMessage)
	if err != nil {
		log.Printf("push: receive loop ended: %v", err)
	}
	l.mu.Lock()
	if l.state == StateRunning {
		l.state = StateStopped
	}
	l.mu.Unlock()
}

// handleMessage runs on the receive goroutine, once per inbound message.
// Every failure here is logged and contained; nothing may kill the loop.
func (l *Listener) handleMessage(msg Message) {
	l.mu.Lock()
	_, seen := l.processed[msg.PersistentID]
	l.mu.Unlock()
	if seen {
		return
	}

	n := model.DecodeNotification(msg.PersistentID, msg.Data)
	log.Printf("push: notification %s (type %q)", n.PersistentID, n.Kind.Raw)

	ctx := context.Background()
	if n.SendAcknowledge {
		if err := l.acknowledge(ctx, n.FCMMessageID); err != nil {
			log.Printf("push: acknowledging %s: %v", n.FCMMessageID, err)
		}
	}

	// Dispatch always; consumer failures must not block dedup persistence
	// and vice versa.
	l.dispatcher.Publish(bus.SignalNotificationReceived, n)

	l.mu.Lock()
	l.processed[msg.PersistentID] = struct{}{}
	snapshot := make([]string, 0, len(l.processed))
	for id := range l.processed {
		snapshot = append(snapshot, id)
	}
	l.mu.Unlock()

	sort.Strings(snapshot)
	if err := l.store.SaveJSON(storageKeyPersistentIDs, snapshot); err != nil {
		log.Printf("push: persisting processed ids: %v", err)
	}
}

func (l *Listener) acknowledge(ctx context.Context, messageID string) error {
	token, err := l.session.AccessToken(ctx)
	if err != nil {
		return err
	}
	return l.api.AcknowledgeNotification(ctx, token, messageID)
}

// Stop deactivates the vendor-side registration (best effort) and closes
// the receiver so the blocked receive loop returns.
func (l *Listener) Stop(ctx context.Context) {
	l.mu.Lock()
	if l.state == StateStopped || l.state == StateStopping {
		l.mu.Unlock()
		return
	}
	l.state = StateStopping
	receiver := l.receiver
	deviceToken := l.creds.DeviceToken
	l.mu.Unlock()

	log.Printf("push: stopping listener")
	if deviceToken != "" {
		if token, err := l.session.AccessToken(ctx); err != nil {
			log.Printf("push: deactivation skipped, no token: %v", err)
		} else if err := l.api.RegisterPushToken(ctx, token, deviceToken, false); err != nil {
			log.Printf("push: deactivating push channel: %v", err)
		}
	}

	if receiver != nil {
		if err := receiver.Close(); err != nil {
			log.Printf("push: closing receiver: %v", err)
		}
	}
	l.setState(StateStopped)
}

func (l *Listener) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

func loadProcessedIDs(store *storage.Store) (map[string]struct{}, error) {
	var ids []string
	if _, err := store.LoadJSON(storageKeyPersistentIDs, &ids); err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

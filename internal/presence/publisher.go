package presence

import (
	"context"
	"log"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"pairpad/api/internal/identity"
	"pairpad/api/internal/realtime"
)

// PublisherConfig bounds the publish path. Zero values take the defaults.
type PublisherConfig struct {
	// DeadBand suppresses a publish when both axes moved less than this
	// many percentage points and the typing state is unchanged.
	DeadBand float64
	// TypingTimeout is the keystroke inactivity window before reverting
	// to the normal state.
	TypingTimeout time.Duration
	// PublishPerSecond caps outbound cursor writes at the ingress of the
	// publish path, standing in for per-animation-frame coalescing.
	PublishPerSecond float64
	// Now is injectable for tests.
	Now func() time.Time
}

func (c PublisherConfig) withDefaults() PublisherConfig {
	if c.DeadBand <= 0 {
		c.DeadBand = DefaultDeadBand
	}
	if c.TypingTimeout <= 0 {
		c.TypingTimeout = DefaultTypingTimeout
	}
	if c.PublishPerSecond <= 0 {
		c.PublishPerSecond = 60
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Publisher broadcasts one user's cursor state into one room. It only ever
// writes its own key, always as a whole-record replacement. Publish failures
// are absorbed and logged; nothing here may fail the editing experience.
type Publisher struct {
	ks      realtime.Keyspace
	subtree string
	self    identity.Identity
	cfg     PublisherConfig
	limiter *rate.Limiter

	mu          sync.Mutex
	last        *CursorState // last published record, nil before first publish
	activeFile  string
	typing      bool
	typingTimer *time.Timer
	left        bool
}

func NewPublisher(ks realtime.Keyspace, roomID string, self identity.Identity, activeFile string, cfg PublisherConfig) *Publisher {
	cfg = cfg.withDefaults()
	return &Publisher{
		ks:         ks,
		subtree:    realtime.CursorsSubtree(roomID),
		self:       self,
		cfg:        cfg,
		limiter:    rate.NewLimiter(rate.Limit(cfg.PublishPerSecond), int(math.Ceil(cfg.PublishPerSecond/10))+1),
		activeFile: activeFile,
	}
}

// Move reports a pointer position as viewport percentages. Sub-dead-band
// moves with unchanged state generate no traffic at all.
func (p *Publisher) Move(ctx context.Context, xPercent, yPercent float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.left {
		return
	}
	if p.last != nil &&
		math.Abs(xPercent-p.last.XPercent) < p.cfg.DeadBand &&
		math.Abs(yPercent-p.last.YPercent) < p.cfg.DeadBand &&
		p.stateLocked() == p.last.State &&
		p.activeFile == p.last.ActiveFile {
		deadBandSuppressedTotal.Inc()
		return
	}
	if !p.limiter.Allow() {
		rateLimitedTotal.Inc()
		return
	}
	p.publishLocked(ctx, xPercent, yPercent)
}

// Keystroke marks the user as typing and (re)arms the inactivity timer. The
// transition into typing publishes immediately; the reversion publishes when
// the timer fires so peers observe it without further input.
func (p *Publisher) Keystroke(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.left {
		return
	}
	wasTyping := p.typing
	p.typing = true
	if p.typingTimer == nil {
		p.typingTimer = time.AfterFunc(p.cfg.TypingTimeout, p.typingExpired)
	} else {
		p.typingTimer.Reset(p.cfg.TypingTimeout)
	}
	if !wasTyping {
		p.republishLocked(ctx)
	}
}

// SetActiveFile records which file the user has open; peers only render
// cursors within the same file.
func (p *Publisher) SetActiveFile(ctx context.Context, file string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.left || p.activeFile == file {
		return
	}
	p.activeFile = file
	p.republishLocked(ctx)
}

// Exit deletes the cursor record when the pointer leaves the viewport while
// the session stays alive. The next move republishes from scratch.
func (p *Publisher) Exit(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.left || p.last == nil {
		return
	}
	p.last = nil
	p.typing = false
	if p.typingTimer != nil {
		p.typingTimer.Stop()
	}
	if err := p.ks.Delete(ctx, p.subtree, p.self.UserID); err != nil {
		log.Printf("presence: delete cursor for %s: %v", p.self.UserID, err)
	}
}

// Leave deletes this user's cursor record: the explicit leave signal, as
// opposed to letting the record age out. Exactly one delete is issued no
// matter how many times Leave is called; the pending typing timer is
// cancelled with it.
func (p *Publisher) Leave(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.left {
		return
	}
	p.left = true
	if p.typingTimer != nil {
		p.typingTimer.Stop()
		p.typingTimer = nil
	}
	if err := p.ks.Delete(ctx, p.subtree, p.self.UserID); err != nil {
		log.Printf("presence: delete cursor for %s: %v", p.self.UserID, err)
	}
}

func (p *Publisher) typingExpired() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.left || !p.typing {
		return
	}
	p.typing = false
	p.republishLocked(context.Background())
}

func (p *Publisher) stateLocked() State {
	if p.typing {
		return StateTyping
	}
	return StateNormal
}

// republishLocked re-sends the last known position carrying the current
// state and file. Before any position is known there is nothing to publish.
func (p *Publisher) republishLocked(ctx context.Context) {
	if p.last == nil {
		return
	}
	p.publishLocked(ctx, p.last.XPercent, p.last.YPercent)
}

func (p *Publisher) publishLocked(ctx context.Context, xPercent, yPercent float64) {
	record := CursorState{
		UserID:          p.self.UserID,
		DisplayName:     p.self.DisplayName,
		AvatarURL:       p.self.AvatarURL,
		XPercent:        xPercent,
		YPercent:        yPercent,
		State:           p.stateLocked(),
		ActiveFile:      p.activeFile,
		UpdatedAtMillis: p.cfg.Now().UnixMilli(),
	}
	if err := p.ks.Set(ctx, p.subtree, p.self.UserID, record); err != nil {
		log.Printf("presence: publish cursor for %s: %v", p.self.UserID, err)
		return
	}
	p.last = &record
	publishesTotal.Inc()
}

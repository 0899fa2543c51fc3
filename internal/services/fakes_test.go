package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"firebase.google.com/go/messaging"

	"lifeisbonusBack/internal/models"
	"lifeisbonusBack/internal/repositories"
)

var errStale = errors.New("registration-token-not-registered")

type memUsers struct {
	mu           sync.Mutex
	entitlements map[string]models.Entitlement
	history      []models.PurchaseHistoryEntry
	replaceErr   error
	historyErr   error
}

func newMemUsers() *memUsers {
	return &memUsers{entitlements: map[string]models.Entitlement{}}
}

func (m *memUsers) ReplaceEntitlement(_ context.Context, uid string, ent models.Entitlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.replaceErr != nil {
		return m.replaceErr
	}
	m.entitlements[uid] = ent
	return nil
}

func (m *memUsers) AppendPurchaseHistory(_ context.Context, entry models.PurchaseHistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.historyErr != nil {
		return m.historyErr
	}
	m.history = append(m.history, entry)
	return nil
}

type memTokens struct {
	mu       sync.Mutex
	entries  map[string]models.PurchaseTokenIndexEntry
	unmapped []models.PurchaseTokenIndexEntry
	findErr  error
}

func newMemTokens() *memTokens {
	return &memTokens{entries: map[string]models.PurchaseTokenIndexEntry{}}
}

func (m *memTokens) UpsertPurchaseToken(_ context.Context, e models.PurchaseTokenIndexEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.entries[e.PurchaseTokenHash]; ok && len(e.LastRTDNEvent) == 0 {
		e.LastRTDNEvent = prev.LastRTDNEvent
	}
	m.entries[e.PurchaseTokenHash] = e
	return nil
}

func (m *memTokens) FindPurchaseToken(_ context.Context, hash string) (models.PurchaseTokenIndexEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return models.PurchaseTokenIndexEntry{}, m.findErr
	}
	e, ok := m.entries[hash]
	if !ok {
		return models.PurchaseTokenIndexEntry{}, repositories.ErrNotFound
	}
	return e, nil
}

func (m *memTokens) MarkUnmapped(_ context.Context, e models.PurchaseTokenIndexEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unmapped = append(m.unmapped, e)
	if prev, ok := m.entries[e.PurchaseTokenHash]; ok {
		prev.LastRTDNEvent = e.LastRTDNEvent
		prev.LastSource = e.LastSource
		m.entries[e.PurchaseTokenHash] = prev
		return nil
	}
	m.entries[e.PurchaseTokenHash] = e
	return nil
}

type stubVerifier struct {
	platform models.Platform
	ver      models.Verification
	err      error
	calls    int
	lastPC   PlatformContext
}

func (s *stubVerifier) Platform() models.Platform { return s.platform }

func (s *stubVerifier) Verify(_ context.Context, _, _ string, pc PlatformContext) (models.Verification, error) {
	s.calls++
	s.lastPC = pc
	return s.ver, s.err
}

type memChats struct {
	threads    map[string]models.Thread
	blocked    map[string]models.ModerationResult
	cleared    []string
	lastPatch  map[string]*string
	patchCount int
	getErr     error
}

func newMemChats(threads ...models.Thread) *memChats {
	m := &memChats{
		threads:   map[string]models.Thread{},
		blocked:   map[string]models.ModerationResult{},
		lastPatch: map[string]*string{},
	}
	for _, t := range threads {
		if t.UnreadCounts == nil {
			t.UnreadCounts = map[string]int{}
		}
		m.threads[t.ID] = t
	}
	return m
}

func (m *memChats) GetThread(_ context.Context, id string) (models.Thread, error) {
	if m.getErr != nil {
		return models.Thread{}, m.getErr
	}
	t, ok := m.threads[id]
	if !ok {
		return models.Thread{}, repositories.ErrNotFound
	}
	return t, nil
}

func (m *memChats) BlockMessage(_ context.Context, threadID, messageID string, res models.ModerationResult, _ time.Time) error {
	m.blocked[threadID+"/"+messageID] = res
	return nil
}

func (m *memChats) ClearMessageModeration(_ context.Context, threadID, messageID string, _ time.Time) error {
	m.cleared = append(m.cleared, threadID+"/"+messageID)
	return nil
}

func (m *memChats) PatchThreadModeration(_ context.Context, threadID string, lastMessage *string, _ time.Time) error {
	m.patchCount++
	m.lastPatch[threadID] = lastMessage
	if lastMessage != nil {
		t := m.threads[threadID]
		t.LastMessage = *lastMessage
		m.threads[threadID] = t
	}
	return nil
}

func (m *memChats) DecrementUnread(_ context.Context, threadID string, uids []string) error {
	t := m.threads[threadID]
	for _, uid := range uids {
		if t.UnreadCounts[uid] > 0 {
			t.UnreadCounts[uid]--
		}
	}
	m.threads[threadID] = t
	return nil
}

type memDirectory struct {
	profiles map[string]models.PushProfile
	removed  map[string][]string
	getErr   map[string]error
}

func newMemDirectory(profiles ...models.PushProfile) *memDirectory {
	d := &memDirectory{
		profiles: map[string]models.PushProfile{},
		removed:  map[string][]string{},
		getErr:   map[string]error{},
	}
	for _, p := range profiles {
		d.profiles[p.UID] = p
	}
	return d
}

func (d *memDirectory) GetPushProfile(_ context.Context, uid string) (models.PushProfile, error) {
	if err := d.getErr[uid]; err != nil {
		return models.PushProfile{}, err
	}
	p, ok := d.profiles[uid]
	if !ok {
		return models.PushProfile{}, repositories.ErrNotFound
	}
	return p, nil
}

func (d *memDirectory) RemoveTokens(_ context.Context, uid string, tokens []string) error {
	d.removed[uid] = append(d.removed[uid], tokens...)
	p := d.profiles[uid]
	drop := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		drop[t] = struct{}{}
	}
	kept := p.Tokens[:0:0]
	for _, t := range p.Tokens {
		if _, ok := drop[t]; !ok {
			kept = append(kept, t)
		}
	}
	p.Tokens = kept
	d.profiles[uid] = p
	return nil
}

type fakeMessenger struct {
	sent  []*messaging.MulticastMessage
	stale map[string]bool
	err   error
}

func (f *fakeMessenger) SendMulticast(_ context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	f.sent = append(f.sent, msg)
	if f.err != nil {
		return nil, f.err
	}
	br := &messaging.BatchResponse{}
	for _, tok := range msg.Tokens {
		if f.stale[tok] {
			br.FailureCount++
			br.Responses = append(br.Responses, &messaging.SendResponse{Success: false, Error: errStale})
			continue
		}
		br.SuccessCount++
		br.Responses = append(br.Responses, &messaging.SendResponse{Success: true, MessageID: "m-" + tok})
	}
	return br, nil
}

type memGuard struct {
	claimed  map[string]bool
	released []string
}

func newMemGuard() *memGuard { return &memGuard{claimed: map[string]bool{}} }

func (g *memGuard) Claim(_ context.Context, key string) (bool, error) {
	if g.claimed[key] {
		return false, nil
	}
	g.claimed[key] = true
	return true, nil
}

func (g *memGuard) Release(_ context.Context, key string) error {
	delete(g.claimed, key)
	g.released = append(g.released, key)
	return nil
}

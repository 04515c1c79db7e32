package memdb

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/quotecache/pkg/blobcodec"
	"github.com/quotecache/pkg/models"
)

// KV keys for the three tracked datasets.
const (
	usersKey  = "memDb.users"
	metaNS    = "memDb"
	assetsKey = "allAssets.zstd"
	spansKey  = "webAssets"
)

// KV is the cache's view of the key-value store's get contract.
type KV interface {
	GetPlain(ctx context.Context, key string) (string, bool, error)
	GetStr(ctx context.Context, ns, key string) (string, bool, error)
	GetBin(ctx context.Context, ns, key string) ([]byte, bool, error)
}

// Snapshot is the result of one poll. When Changed is false the Users and
// Assets views are the previously rebuilt ones, untouched.
type Snapshot struct {
	Changed bool
	Users   []*models.User
	Assets  []*models.Asset
}

// MemDb mirrors the KV store's three top-level datasets in memory and only
// rebuilds the derived object graph when the raw bytes actually changed.
// PollForChanges serializes itself via the mutex; run one poller in
// production.
type MemDb struct {
	kv     KV
	logger *logrus.Entry

	// unmarshal is swappable so tests can count deserialization work
	unmarshal func([]byte, any) error

	mu         sync.Mutex
	lastUsers  string
	lastAssets string
	lastSpans  string
	users      []*models.User
	assets     []*models.Asset
}

// New creates the in-memory mirror. No data is fetched until the first poll.
func New(kv KV, logger *logrus.Logger) *MemDb {
	return &MemDb{
		kv:        kv,
		logger:    logger.WithField("component", "memdb"),
		unmarshal: json.Unmarshal,
	}
}

// PollForChanges fetches the three raw datasets, compares them byte for
// byte against the last seen copies, and rebuilds the derived users and
// assets views only when something changed. The last-seen snapshot is
// updated only after a fully successful rebuild, so a bad fetch or a
// config error leaves the previous state intact and is retried next poll.
func (m *MemDb) PollForChanges(ctx context.Context) (*Snapshot, error) {
	usersRaw, found, err := m.kv.GetPlain(ctx, usersKey)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("memdb: dataset %s missing from the KV store", usersKey)
	}

	assetsBin, found, err := m.kv.GetBin(ctx, metaNS, assetsKey)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("memdb: dataset %s/%s missing from the KV store", metaNS, assetsKey)
	}
	assetsRaw, err := blobcodec.Decompress(assetsBin)
	if err != nil {
		return nil, fmt.Errorf("memdb: failed to decompress asset table: %w", err)
	}

	spansRaw, found, err := m.kv.GetStr(ctx, metaNS, spansKey)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("memdb: dataset %s/%s missing from the KV store", metaNS, spansKey)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if usersRaw == m.lastUsers && assetsRaw == m.lastAssets && spansRaw == m.lastSpans {
		return &Snapshot{Changed: false, Users: m.users, Assets: m.assets}, nil
	}

	users, assets, err := m.rebuild(usersRaw, assetsRaw, spansRaw)
	if err != nil {
		return nil, err
	}

	m.lastUsers = usersRaw
	m.lastAssets = assetsRaw
	m.lastSpans = spansRaw
	m.users = users
	m.assets = assets

	m.logger.WithFields(logrus.Fields{
		"users":  len(users),
		"assets": len(assets),
	}).Info("Rebuilt in-memory views after KV change")

	return &Snapshot{Changed: true, Users: users, Assets: assets}, nil
}

// Assets returns the last rebuilt asset view. Callers must not mutate
// the slice; quote fields inside are refreshed in place by the RT loop.
func (m *MemDb) Assets() []*models.Asset {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.assets
}

// Users returns the last rebuilt user view.
func (m *MemDb) Users() []*models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users
}

// AssetByTicker finds one asset in the last rebuilt view.
func (m *MemDb) AssetByTicker(ticker string) (*models.Asset, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.assets {
		if a.Ticker == ticker {
			return a, true
		}
	}
	return nil, false
}

// Raw document shapes, as authored in the KV store.
type rawUser struct {
	ID           int    `json:"id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	Initials     string `json:"initials"`
	VisibleUsers string `json:"visibleUsers"` // comma-separated usernames
}

type rawAsset struct {
	ID       uint32 `json:"id"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Currency string `json:"currency"`
	User     string `json:"user"` // owning username, broker-NAV rows only
}

type rawSpan struct {
	Type string `json:"type"` // sub-table code letter
	ID   uint32 `json:"id"`
	Span string `json:"histSpan"`
}

func (m *MemDb) rebuild(usersRaw, assetsRaw, spansRaw string) ([]*models.User, []*models.Asset, error) {
	var rawUsers []rawUser
	if err := m.unmarshal([]byte(usersRaw), &rawUsers); err != nil {
		return nil, nil, fmt.Errorf("memdb: failed to parse users: %w", err)
	}

	// asset table: sub-tables keyed by code letter
	var assetDoc map[string][]rawAsset
	if err := m.unmarshal([]byte(assetsRaw), &assetDoc); err != nil {
		return nil, nil, fmt.Errorf("memdb: failed to parse asset table: %w", err)
	}

	var spans []rawSpan
	if err := m.unmarshal([]byte(spansRaw), &spans); err != nil {
		return nil, nil, fmt.Errorf("memdb: failed to parse web asset config: %w", err)
	}

	users, byName := m.buildUsers(rawUsers)

	assets := make([]*models.Asset, 0, len(spans))
	for _, want := range spans {
		atype, ok := models.AssetTypeForCode(want.Type)
		if !ok {
			return nil, nil, fmt.Errorf("memdb: unknown asset sub-table code %q", want.Type)
		}
		raw, ok := findRawAsset(assetDoc[want.Type], want.ID)
		if !ok {
			// Drift between the web config and the asset table is an
			// authoring error; continuing would serve phantom assets.
			return nil, nil, fmt.Errorf("memdb: config drift: wanted asset %s:%d missing from the asset table", want.Type, want.ID)
		}

		asset := &models.Asset{
			ID:       models.NewAssetId(atype, want.ID),
			Ticker:   raw.Symbol,
			Name:     raw.Name,
			Currency: raw.Currency,
		}
		if atype == models.AssetTypeBrokerNAV && raw.User != "" {
			owner, ok := byName[raw.User]
			if !ok {
				m.logger.WithFields(logrus.Fields{
					"asset": asset.ID.String(),
					"user":  raw.User,
				}).Warn("Broker-NAV asset references unknown user")
			}
			asset.User = owner
		}

		start, err := ExpectedHistoryStartDate(want.Span, raw.Symbol)
		if err != nil {
			return nil, nil, err
		}
		asset.ExpectedHistoryStart = start

		assets = append(assets, asset)
	}

	return users, assets, nil
}

// buildUsers constructs all users first, then resolves the visible-users
// name lists, so forward references between users work.
func (m *MemDb) buildUsers(raws []rawUser) ([]*models.User, map[string]*models.User) {
	users := make([]*models.User, 0, len(raws))
	byName := make(map[string]*models.User, len(raws))
	for _, r := range raws {
		u := &models.User{ID: r.ID, Username: r.Username, Email: r.Email, Initials: r.Initials}
		users = append(users, u)
		byName[u.Username] = u
	}
	for i, r := range raws {
		if r.VisibleUsers == "" {
			continue
		}
		for _, name := range strings.Split(r.VisibleUsers, ",") {
			name = strings.TrimSpace(name)
			if v, ok := byName[name]; ok {
				users[i].VisibleUsers = append(users[i].VisibleUsers, v)
			} else {
				m.logger.WithFields(logrus.Fields{
					"user":    r.Username,
					"visible": name,
				}).Warn("Visible-user reference not found")
			}
		}
	}
	return users, byName
}

func findRawAsset(rows []rawAsset, id uint32) (rawAsset, bool) {
	for _, r := range rows {
		if r.ID == id {
			return r, true
		}
	}
	return rawAsset{}, false
}

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"github.com/wattlog/wattlog/pkg/log"
	"github.com/wattlog/wattlog/pkg/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	usersCollection        = "users"
	devicesCollection      = "devices"
	archiveCollection      = "daily_archive"
	goalsCollection        = "goals"
	goalsArchiveCollection = "goals_archive"
	configCollection       = "config"
)

// FirestoreProvider implements the Database interface using Google Cloud Firestore.
// Every user's data lives under users/{userID}. Records are stored as a JSON
// string in the "json" field next to a few indexed fields.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured. An empty project
// is detected from the environment.
func (f *FirestoreProvider) Validate() error {
	if f.database == "" || f.database == firestore.DefaultDatabaseID {
		return nil
	}
	if len(f.database) < 4 || len(f.database) > 63 {
		return fmt.Errorf("invalid --firestore-database %q: must be 4 to 63 characters", f.database)
	}
	for _, r := range f.database {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '-' {
			return fmt.Errorf("invalid --firestore-database %q: only lowercase letters, digits and hyphens", f.database)
		}
	}
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreProvider) getCollection(userID, name string) (*firestore.CollectionRef, error) {
	if userID == "" {
		return nil, ErrUserIDEmpty
	}
	return f.client.Collection(usersCollection).Doc(userID).Collection(name), nil
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// decodeJSON unmarshals the "json" field of doc into v.
func decodeJSON(doc *firestore.DocumentSnapshot, v any) error {
	val, err := doc.DataAt("json")
	if err != nil {
		return fmt.Errorf("document %s missing 'json' field: %w", doc.Ref.ID, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		return fmt.Errorf("document %s 'json' field is not a string", doc.Ref.ID)
	}
	if err := json.Unmarshal([]byte(jsonStr), v); err != nil {
		return fmt.Errorf("failed to unmarshal document %s: %w", doc.Ref.ID, err)
	}
	return nil
}

// touchUser makes sure the user document exists so ListUserIDs finds it.
func (f *FirestoreProvider) touchUser(ctx context.Context, userID string) error {
	_, err := f.client.Collection(usersCollection).Doc(userID).Set(ctx, map[string]interface{}{
		"lastSeen": time.Now(),
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("failed to touch user: %w", err)
	}
	return nil
}

// GetSettings retrieves the dynamic configuration from the "config/settings" document.
func (f *FirestoreProvider) GetSettings(ctx context.Context, userID string) (types.Settings, int, error) {
	coll, err := f.getCollection(userID, configCollection)
	if err != nil {
		return types.Settings{}, 0, err
	}
	doc, err := coll.Doc("settings").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			// Return default settings if not found
			return types.Settings{}, 0, nil
		}
		return types.Settings{}, 0, fmt.Errorf("failed to fetch settings doc: %w", err)
	}

	// Read version if available (default 0)
	var version int
	if v, err := doc.DataAt("version"); err == nil {
		if vInt, ok := v.(int64); ok {
			version = int(vInt)
		}
	}

	var s types.Settings
	if err := decodeJSON(doc, &s); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode settings", slog.String("userID", userID), slog.Any("error", err))
		return types.Settings{}, 0, err
	}
	return s, version, nil
}

// SetSettings saves the dynamic configuration to the "config/settings" document.
// It stores the settings as a JSON string for portability.
func (f *FirestoreProvider) SetSettings(ctx context.Context, userID string, settings types.Settings, version int) error {
	jsonStr, err := encodeJSON(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	coll, err := f.getCollection(userID, configCollection)
	if err != nil {
		return err
	}
	_, err = coll.Doc("settings").Set(ctx, map[string]interface{}{
		"json":    jsonStr,
		"version": version,
	})
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

func deviceData(d types.Device) (map[string]interface{}, error) {
	jsonStr, err := encodeJSON(d)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal device: %w", err)
	}
	return map[string]interface{}{
		"json":      jsonStr,
		"updatedAt": d.UpdatedAt,
	}, nil
}

// decodeDevices decodes device documents. Malformed documents are skipped so a
// single bad record never hides the rest of the registry.
func decodeDevices(ctx context.Context, userID string, docs []*firestore.DocumentSnapshot) map[string]types.Device {
	devices := make(map[string]types.Device, len(docs))
	for _, doc := range docs {
		var d types.Device
		if err := decodeJSON(doc, &d); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "skipping malformed device", slog.String("userID", userID), slog.String("deviceID", doc.Ref.ID), slog.Any("error", err))
			continue
		}
		d.ID = doc.Ref.ID
		devices[d.ID] = d
	}
	return devices
}

// ReadDevices returns the user's device registry keyed by device id.
func (f *FirestoreProvider) ReadDevices(ctx context.Context, userID string) (map[string]types.Device, error) {
	coll, err := f.getCollection(userID, devicesCollection)
	if err != nil {
		return nil, err
	}
	docs, err := coll.Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read devices: %w", err)
	}
	return decodeDevices(ctx, userID, docs), nil
}

// SubscribeDevices streams the registry through a Firestore snapshot listener.
func (f *FirestoreProvider) SubscribeDevices(ctx context.Context, userID string, onChange func(map[string]types.Device)) (Subscription, error) {
	coll, err := f.getCollection(userID, devicesCollection)
	if err != nil {
		return nil, err
	}
	return subscribe(ctx, coll.Query, userID, devicesCollection, func(docs []*firestore.DocumentSnapshot) {
		onChange(decodeDevices(ctx, userID, docs))
	}), nil
}

// PutDevice creates or replaces a device document.
func (f *FirestoreProvider) PutDevice(ctx context.Context, userID string, device types.Device) (types.Device, error) {
	coll, err := f.getCollection(userID, devicesCollection)
	if err != nil {
		return types.Device{}, err
	}
	ref := coll.NewDoc()
	if device.ID != "" {
		ref = coll.Doc(device.ID)
	}
	device.ID = ref.ID
	data, err := deviceData(device)
	if err != nil {
		return types.Device{}, err
	}
	if _, err := ref.Set(ctx, data); err != nil {
		return types.Device{}, fmt.Errorf("failed to save device: %w", err)
	}
	if err := f.touchUser(ctx, userID); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to touch user", slog.String("userID", userID), slog.Any("error", err))
	}
	return device, nil
}

// DeleteDevice removes a device. Deleting a missing device is not an error.
func (f *FirestoreProvider) DeleteDevice(ctx context.Context, userID, deviceID string) error {
	coll, err := f.getCollection(userID, devicesCollection)
	if err != nil {
		return err
	}
	if _, err := coll.Doc(deviceID).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}
	return nil
}

// ClearDevices removes every device of the user last updated before before in
// one transaction. Malformed documents are removed too.
func (f *FirestoreProvider) ClearDevices(ctx context.Context, userID string, before time.Time) error {
	coll, err := f.getCollection(userID, devicesCollection)
	if err != nil {
		return err
	}
	err = f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docs, err := tx.Documents(coll).GetAll()
		if err != nil {
			return err
		}
		for _, doc := range docs {
			var d types.Device
			if err := decodeJSON(doc, &d); err == nil && !before.IsZero() && !d.UpdatedAt.Before(before) {
				continue
			}
			if err := tx.Delete(doc.Ref); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to clear devices: %w", err)
	}
	return nil
}

// ResetDailyUsage zeroes the daily usage of every device last updated before
// before in one transaction.
func (f *FirestoreProvider) ResetDailyUsage(ctx context.Context, userID string, before time.Time) error {
	coll, err := f.getCollection(userID, devicesCollection)
	if err != nil {
		return err
	}
	err = f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docs, err := tx.Documents(coll).GetAll()
		if err != nil {
			return err
		}
		for id, d := range decodeDevices(ctx, userID, docs) {
			if !d.UpdatedAt.Before(before) {
				continue
			}
			d.DailyUsageHours = 0
			d.UpdatedAt = before
			data, err := deviceData(d)
			if err != nil {
				return err
			}
			if err := tx.Set(coll.Doc(id), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to reset daily usage: %w", err)
	}
	return nil
}

func archiveData(entry types.ArchiveEntry) (map[string]interface{}, error) {
	jsonStr, err := encodeJSON(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal archive entry: %w", err)
	}
	return map[string]interface{}{
		"json":      jsonStr,
		"timestamp": entry.Timestamp,
	}, nil
}

// ReadArchiveEntry returns the entry of one date key or nil if there is none.
func (f *FirestoreProvider) ReadArchiveEntry(ctx context.Context, userID, dateKey string) (*types.ArchiveEntry, error) {
	coll, err := f.getCollection(userID, archiveCollection)
	if err != nil {
		return nil, err
	}
	doc, err := coll.Doc(dateKey).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read archive entry %s: %w", dateKey, err)
	}
	var entry types.ArchiveEntry
	if err := decodeJSON(doc, &entry); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "malformed archive entry", slog.String("userID", userID), slog.String("dateKey", dateKey), slog.Any("error", err))
		return nil, err
	}
	return &entry, nil
}

// ReadArchiveRange retrieves every archive entry whose date key starts with
// prefix. Uses document ID range queries so only matching documents are read.
func (f *FirestoreProvider) ReadArchiveRange(ctx context.Context, userID, prefix string) (map[string]types.ArchiveEntry, error) {
	coll, err := f.getCollection(userID, archiveCollection)
	if err != nil {
		return nil, err
	}
	q := coll.OrderBy(firestore.DocumentID, firestore.Asc)
	if prefix != "" {
		q = coll.
			Where(firestore.DocumentID, ">=", coll.Doc(prefix)).
			Where(firestore.DocumentID, "<", coll.Doc(prefixEnd(prefix))).
			OrderBy(firestore.DocumentID, firestore.Asc)
	}
	iter := q.Documents(ctx)
	defer iter.Stop()

	entries := make(map[string]types.ArchiveEntry)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating archive entries: %w", err)
		}

		var entry types.ArchiveEntry
		if err := decodeJSON(doc, &entry); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "skipping malformed archive entry", slog.String("userID", userID), slog.String("dateKey", doc.Ref.ID), slog.Any("error", err))
			continue
		}
		entries[doc.Ref.ID] = entry
	}
	return entries, nil
}

// WriteArchiveEntry creates or replaces the entry of a date key.
func (f *FirestoreProvider) WriteArchiveEntry(ctx context.Context, userID, dateKey string, entry types.ArchiveEntry) error {
	coll, err := f.getCollection(userID, archiveCollection)
	if err != nil {
		return err
	}
	data, err := archiveData(entry)
	if err != nil {
		return err
	}
	if _, err := coll.Doc(dateKey).Set(ctx, data); err != nil {
		return fmt.Errorf("failed to write archive entry %s: %w", dateKey, err)
	}
	return nil
}

// CreateArchiveEntry writes the entry only when the date key has none.
func (f *FirestoreProvider) CreateArchiveEntry(ctx context.Context, userID, dateKey string, entry types.ArchiveEntry) error {
	coll, err := f.getCollection(userID, archiveCollection)
	if err != nil {
		return err
	}
	data, err := archiveData(entry)
	if err != nil {
		return err
	}
	if _, err := coll.Doc(dateKey).Create(ctx, data); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return fmt.Errorf("%w: archive entry %s", ErrAlreadyExists, dateKey)
		}
		return fmt.Errorf("failed to create archive entry %s: %w", dateKey, err)
	}
	return nil
}

// UpdateArchiveEntry runs a read-modify-write of one entry in a transaction.
func (f *FirestoreProvider) UpdateArchiveEntry(ctx context.Context, userID, dateKey string, fn func(*types.ArchiveEntry) bool) error {
	coll, err := f.getCollection(userID, archiveCollection)
	if err != nil {
		return err
	}
	ref := coll.Doc(dateKey)
	err = f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		entry := types.ArchiveEntry{}
		doc, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return err
		default:
			if err := decodeJSON(doc, &entry); err != nil {
				log.Ctx(ctx).WarnContext(ctx, "replacing malformed archive entry", slog.String("userID", userID), slog.String("dateKey", dateKey), slog.Any("error", err))
				entry = types.ArchiveEntry{}
			}
		}
		if entry.Devices == nil {
			entry.Devices = map[string]types.Device{}
		}
		if !fn(&entry) {
			return nil
		}
		data, err := archiveData(entry)
		if err != nil {
			return err
		}
		return tx.Set(ref, data)
	})
	if err != nil {
		return fmt.Errorf("failed to update archive entry %s: %w", dateKey, err)
	}
	return nil
}

func goalData(g types.Goal) (map[string]interface{}, error) {
	jsonStr, err := encodeJSON(g)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal goal: %w", err)
	}
	data := map[string]interface{}{
		"json":      jsonStr,
		"createdAt": g.CreatedAt,
	}
	if g.ExpiredAt != nil {
		data["expiredAt"] = *g.ExpiredAt
	}
	return data, nil
}

func decodeGoals(ctx context.Context, userID string, docs []*firestore.DocumentSnapshot) map[string]types.Goal {
	goals := make(map[string]types.Goal, len(docs))
	for _, doc := range docs {
		var g types.Goal
		if err := decodeJSON(doc, &g); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "skipping malformed goal", slog.String("userID", userID), slog.String("goalID", doc.Ref.ID), slog.Any("error", err))
			continue
		}
		g.ID = doc.Ref.ID
		goals[g.ID] = g
	}
	return goals
}

func (f *FirestoreProvider) readGoals(ctx context.Context, userID, name string) (map[string]types.Goal, error) {
	coll, err := f.getCollection(userID, name)
	if err != nil {
		return nil, err
	}
	docs, err := coll.Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return decodeGoals(ctx, userID, docs), nil
}

// ReadGoals returns the active goals keyed by goal id.
func (f *FirestoreProvider) ReadGoals(ctx context.Context, userID string) (map[string]types.Goal, error) {
	return f.readGoals(ctx, userID, goalsCollection)
}

// ReadArchivedGoals returns the expired goals keyed by goal id.
func (f *FirestoreProvider) ReadArchivedGoals(ctx context.Context, userID string) (map[string]types.Goal, error) {
	return f.readGoals(ctx, userID, goalsArchiveCollection)
}

// SubscribeGoals streams the active goals through a Firestore snapshot listener.
func (f *FirestoreProvider) SubscribeGoals(ctx context.Context, userID string, onChange func(map[string]types.Goal)) (Subscription, error) {
	coll, err := f.getCollection(userID, goalsCollection)
	if err != nil {
		return nil, err
	}
	return subscribe(ctx, coll.Query, userID, goalsCollection, func(docs []*firestore.DocumentSnapshot) {
		onChange(decodeGoals(ctx, userID, docs))
	}), nil
}

// CreateGoal stores a new goal under a generated id.
func (f *FirestoreProvider) CreateGoal(ctx context.Context, userID string, goal types.Goal) (types.Goal, error) {
	coll, err := f.getCollection(userID, goalsCollection)
	if err != nil {
		return types.Goal{}, err
	}
	ref := coll.NewDoc()
	goal.ID = ref.ID
	data, err := goalData(goal)
	if err != nil {
		return types.Goal{}, err
	}
	if _, err := ref.Create(ctx, data); err != nil {
		return types.Goal{}, fmt.Errorf("failed to create goal: %w", err)
	}
	if err := f.touchUser(ctx, userID); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to touch user", slog.String("userID", userID), slog.Any("error", err))
	}
	return goal, nil
}

// UpdateGoal applies a partial update inside a transaction.
func (f *FirestoreProvider) UpdateGoal(ctx context.Context, userID, goalID string, update types.GoalUpdate) error {
	coll, err := f.getCollection(userID, goalsCollection)
	if err != nil {
		return err
	}
	ref := coll.Doc(goalID)
	err = f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return fmt.Errorf("%w: goal %s", ErrNotFound, goalID)
			}
			return err
		}
		var g types.Goal
		if err := decodeJSON(doc, &g); err != nil {
			return err
		}
		g.ID = goalID
		update.Apply(&g)
		data, err := goalData(g)
		if err != nil {
			return err
		}
		return tx.Set(ref, data)
	})
	if err != nil {
		return fmt.Errorf("failed to update goal %s: %w", goalID, err)
	}
	return nil
}

// DeleteGoal removes an active goal.
func (f *FirestoreProvider) DeleteGoal(ctx context.Context, userID, goalID string) error {
	coll, err := f.getCollection(userID, goalsCollection)
	if err != nil {
		return err
	}
	if _, err := coll.Doc(goalID).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete goal %s: %w", goalID, err)
	}
	return nil
}

// ArchiveGoal copies the goal into goals_archive and deletes the active one in
// one transaction.
func (f *FirestoreProvider) ArchiveGoal(ctx context.Context, userID string, goal types.Goal) error {
	active, err := f.getCollection(userID, goalsCollection)
	if err != nil {
		return err
	}
	archived, err := f.getCollection(userID, goalsArchiveCollection)
	if err != nil {
		return err
	}
	data, err := goalData(goal)
	if err != nil {
		return err
	}
	err = f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := tx.Set(archived.Doc(goal.ID), data); err != nil {
			return err
		}
		return tx.Delete(active.Doc(goal.ID))
	})
	if err != nil {
		return fmt.Errorf("failed to archive goal %s: %w", goal.ID, err)
	}
	return nil
}

// GetLastProcessedDate returns the last date key the rollover completed, or ""
// when the user was never processed.
func (f *FirestoreProvider) GetLastProcessedDate(ctx context.Context, userID string) (string, error) {
	coll, err := f.getCollection(userID, configCollection)
	if err != nil {
		return "", err
	}
	doc, err := coll.Doc("rollover").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", nil
		}
		return "", fmt.Errorf("failed to fetch rollover doc: %w", err)
	}
	v, err := doc.DataAt("lastProcessedDate")
	if err != nil {
		return "", nil
	}
	s, _ := v.(string)
	return s, nil
}

// SetLastProcessedDate records the last date key the rollover completed.
func (f *FirestoreProvider) SetLastProcessedDate(ctx context.Context, userID, dateKey string) error {
	coll, err := f.getCollection(userID, configCollection)
	if err != nil {
		return err
	}
	_, err = coll.Doc("rollover").Set(ctx, map[string]interface{}{
		"lastProcessedDate": dateKey,
		"updatedAt":         time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to save rollover doc: %w", err)
	}
	return nil
}

// ListUserIDs returns the ids of every user, including those whose document
// only exists through its subcollections.
func (f *FirestoreProvider) ListUserIDs(ctx context.Context) ([]string, error) {
	iter := f.client.Collection(usersCollection).DocumentRefs(ctx)
	var ids []string
	for {
		ref, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating users: %w", err)
		}
		ids = append(ids, ref.ID)
	}
	return ids, nil
}

// snapshotSubscription serializes deliveries with Stop.
type snapshotSubscription struct {
	cancel context.CancelFunc

	mu      sync.Mutex
	stopped bool
}

func (s *snapshotSubscription) Stop() {
	s.cancel()
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

func (s *snapshotSubscription) deliver(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	fn()
}

// subscribe runs a snapshot listener on q until ctx is done or the returned
// subscription is stopped. Each snapshot is delivered in full.
func subscribe(ctx context.Context, q firestore.Query, userID, name string, deliver func([]*firestore.DocumentSnapshot)) Subscription {
	ctx, cancel := context.WithCancel(ctx)
	sub := &snapshotSubscription{cancel: cancel}
	it := q.Snapshots(ctx)
	go func() {
		defer it.Stop()
		for {
			qs, err := it.Next()
			if err != nil {
				if ctx.Err() == nil && err != iterator.Done {
					log.Ctx(ctx).ErrorContext(ctx, "snapshot listener failed", slog.String("userID", userID), slog.String("collection", name), slog.Any("error", err))
				}
				return
			}
			docs, err := qs.Documents.GetAll()
			if err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "failed to read snapshot", slog.String("userID", userID), slog.String("collection", name), slog.Any("error", err))
				continue
			}
			sub.deliver(func() { deliver(docs) })
		}
	}()
	return sub
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

const (
	mongoReminders   = "reminders"
	mongoReminderLog = "reminder_log"
	mongoUsers       = "users"
	mongoLogs        = "logs"
	mongoDedup       = "dedup"
)

type mongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	log    logx.Logger
	now    func() time.Time
}

type reminderDoc struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	OwnerID     string             `bson:"owner_id"`
	ChatID      int64              `bson:"chat_id"`
	Message     string             `bson:"message"`
	Due         time.Time          `bson:"due"`
	Zone        string             `bson:"zone,omitempty"`
	Recurrence  string             `bson:"recurrence"`
	Completed   bool               `bson:"completed"`
	Status      string             `bson:"status"`
	DeliveredAt *time.Time         `bson:"delivered_at,omitempty"`
	CreatedAt   time.Time          `bson:"created_at"`
	CompletedAt *time.Time         `bson:"completed_at,omitempty"`
}

func (d reminderDoc) toReminder() reminder.Reminder {
	r := reminder.Reminder{
		ID:         d.ID.Hex(),
		OwnerID:    d.OwnerID,
		ChatID:     d.ChatID,
		Message:    d.Message,
		Due:        reminder.Naive(d.Due.UTC()),
		Zone:       d.Zone,
		Recurrence: reminder.Recurrence(d.Recurrence),
		Completed:  d.Completed,
		Status:     reminder.Status(d.Status),
		CreatedAt:  d.CreatedAt.UTC(),
	}
	if d.DeliveredAt != nil {
		at := d.DeliveredAt.UTC()
		r.DeliveredAt = &at
	}
	return r
}

type userDoc struct {
	ID           string    `bson:"_id"`
	Username     string    `bson:"username"`
	FirstName    string    `bson:"first_name"`
	LastName     string    `bson:"last_name"`
	Timezone     string    `bson:"timezone"`
	RegisteredAt time.Time `bson:"registered_at"`
}

func openMongo(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	uri := strings.TrimSpace(cfg.DSN)
	if uri == "" {
		return nil, errors.New("mongo uri is required")
	}
	name := strings.TrimSpace(cfg.Database)
	if name == "" {
		name = "remindbot"
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opts := options.Client().ApplyURI(uri)
	if cfg.MaxConns > 0 {
		opts.SetMaxPoolSize(uint64(cfg.MaxConns))
	}
	client, err := mongo.Connect(cctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(cctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	st := &mongoStore{client: client, db: client.Database(name), log: log, now: time.Now}
	if err := st.ensureIndexes(cctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo indexes: %w", err)
	}
	log.Info("mongo store opened", logx.String("database", name))
	return st, nil
}

func (s *mongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.db.Collection(mongoReminders).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "completed", Value: 1}, {Key: "due", Value: 1}}},
		{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "completed", Value: 1}}},
	})
	return err
}

func (s *mongoStore) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return ErrDisabled
	}
	return s.client.Ping(ctx, nil)
}

func (s *mongoStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *mongoStore) CreateReminder(ctx context.Context, r reminder.Reminder) (string, error) {
	if s == nil || s.db == nil {
		return "", ErrDisabled
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	doc := reminderDoc{
		ID:          primitive.NewObjectID(),
		OwnerID:     r.OwnerID,
		ChatID:      r.ChatID,
		Message:     r.Message,
		Due:         reminder.Naive(r.Due),
		Zone:        r.Zone,
		Recurrence:  string(r.Recurrence),
		Completed:   r.Completed,
		Status:      string(r.Status),
		DeliveredAt: r.DeliveredAt,
		CreatedAt:   r.CreatedAt.UTC(),
	}
	if _, err := s.db.Collection(mongoReminders).InsertOne(ctx, doc); err != nil {
		return "", fmt.Errorf("insert reminder: %w", err)
	}
	return doc.ID.Hex(), nil
}

func (s *mongoStore) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]reminder.Reminder, error) {
	cur, err := s.db.Collection(mongoReminders).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []reminder.Reminder
	for cur.Next(ctx) {
		var d reminderDoc
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		out = append(out, d.toReminder())
	}
	return out, cur.Err()
}

func (s *mongoStore) FindActive(ctx context.Context, ownerID string) ([]reminder.Reminder, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	filter := bson.M{"completed": false}
	if ownerID != "" {
		filter["owner_id"] = ownerID
	}
	opts := options.Find().SetSort(bson.D{{Key: "due", Value: 1}, {Key: "created_at", Value: 1}})
	return s.find(ctx, filter, opts)
}

func (s *mongoStore) ListHistory(ctx context.Context, ownerID string, limit int) ([]reminder.Reminder, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "completed_at", Value: -1}}).
		SetLimit(int64(limit))
	return s.find(ctx, bson.M{"owner_id": ownerID, "completed": true}, opts)
}

func (s *mongoStore) FindByID(ctx context.Context, id string) (reminder.Reminder, bool, error) {
	if s == nil || s.db == nil {
		return reminder.Reminder{}, false, ErrDisabled
	}
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return reminder.Reminder{}, false, nil
	}
	var d reminderDoc
	err = s.db.Collection(mongoReminders).FindOne(ctx, bson.M{"_id": oid}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return reminder.Reminder{}, false, nil
	}
	if err != nil {
		return reminder.Reminder{}, false, err
	}
	return d.toReminder(), true, nil
}

// UpdateIf runs one UpdateOne whose filter carries the condition, so the
// match and the write are atomic on the document.
func (s *mongoStore) UpdateIf(ctx context.Context, id string, cond reminder.Cond, patch reminder.Patch) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrDisabled
	}
	if patch.Empty() {
		return false, errEmptyPatch
	}
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return false, nil
	}

	filter := bson.M{"_id": oid}
	if cond.Completed != nil {
		filter["completed"] = *cond.Completed
	}
	if cond.Due != nil {
		filter["due"] = reminder.Naive(*cond.Due)
	}
	if cond.Undelivered {
		filter["delivered_at"] = nil
	}

	set := bson.M{}
	unset := bson.M{}
	if patch.Completed != nil {
		set["completed"] = *patch.Completed
		if *patch.Completed {
			set["completed_at"] = s.now().UTC()
		} else {
			unset["completed_at"] = ""
		}
	}
	if patch.Due != nil {
		set["due"] = reminder.Naive(*patch.Due)
	}
	if patch.DeliveredAt != nil {
		set["delivered_at"] = patch.DeliveredAt.UTC()
	}
	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}

	res, err := s.db.Collection(mongoReminders).UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("update reminder: %w", err)
	}
	return res.MatchedCount == 1, nil
}

func (s *mongoStore) DeleteReminder(ctx context.Context, ownerID, id string) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrDisabled
	}
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return false, nil
	}
	res, err := s.db.Collection(mongoReminders).DeleteOne(ctx, bson.M{"_id": oid, "owner_id": ownerID})
	if err != nil {
		return false, fmt.Errorf("delete reminder: %w", err)
	}
	if res.DeletedCount == 0 {
		return false, nil
	}
	_, err = s.db.Collection(mongoReminderLog).InsertOne(ctx, bson.M{
		"user_id":     ownerID,
		"reminder_id": id,
		"status":      string(reminder.StatusDeleted),
		"timestamp":   s.now().UTC(),
	})
	if err != nil {
		s.log.Warn("deletion record not written", logx.String("id", id), logx.Err(err))
	}
	return true, nil
}

func (s *mongoStore) GetUser(ctx context.Context, id string) (User, bool, error) {
	if s == nil || s.db == nil {
		return User{}, false, ErrDisabled
	}
	var d userDoc
	err := s.db.Collection(mongoUsers).FindOne(ctx, bson.M{"_id": id}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, err
	}
	return User{
		ID:           d.ID,
		Username:     d.Username,
		FirstName:    d.FirstName,
		LastName:     d.LastName,
		Timezone:     d.Timezone,
		RegisteredAt: d.RegisteredAt.UTC(),
	}, true, nil
}

func (s *mongoStore) UpsertUser(ctx context.Context, u User) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	reg := u.RegisteredAt
	if reg.IsZero() {
		reg = s.now()
	}
	tz := u.Timezone
	if tz == "" {
		tz = "UTC"
	}
	_, err := s.db.Collection(mongoUsers).UpdateOne(ctx,
		bson.M{"_id": u.ID},
		bson.M{
			"$set": bson.M{
				"username":   u.Username,
				"first_name": u.FirstName,
				"last_name":  u.LastName,
			},
			"$setOnInsert": bson.M{
				"timezone":      tz,
				"registered_at": reg.UTC(),
			},
		},
		options.Update().SetUpsert(true),
	)
	return err
}

func (s *mongoStore) SetTimezone(ctx context.Context, id, zone string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.Collection(mongoUsers).UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{
			"$set":         bson.M{"timezone": zone},
			"$setOnInsert": bson.M{"registered_at": s.now().UTC()},
		},
		options.Update().SetUpsert(true),
	)
	return err
}

func (s *mongoStore) AppendLog(ctx context.Context, e LogEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = s.now()
	}
	_, err := s.db.Collection(mongoLogs).InsertOne(ctx, bson.M{
		"level":     e.Level,
		"message":   e.Message,
		"module":    e.Module,
		"timestamp": e.At.UTC(),
	})
	return err
}

func (s *mongoStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if key == "" {
		return nil
	}
	_, err := s.db.Collection(mongoDedup).UpdateOne(ctx,
		bson.M{"_id": key},
		bson.M{"$set": bson.M{"until": until.UnixMilli()}},
		options.Update().SetUpsert(true),
	)
	return err
}

func (s *mongoStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if s == nil || s.db == nil {
		return time.Time{}, false, ErrDisabled
	}
	if key == "" {
		return time.Time{}, false, nil
	}
	var doc struct {
		Until int64 `bson:"until"`
	}
	err := s.db.Collection(mongoDedup).FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(doc.Until), true, nil
}

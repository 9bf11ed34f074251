// Package chat is the MongoDB-backed chat projection for the
// real-time gateway (C13): Message, MessageReceipt, and
// CaseReadPosition. Grounded on the teacher's
// components/audit/internal/adapters/mongodb/audit repository shape.
package chat

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/caseledger/casecore/internal/realtime"
	"github.com/caseledger/casecore/pkg/mmongo"
	"github.com/caseledger/casecore/pkg/motel"
)

const (
	messagesCollection      = "messages"
	receiptsCollection      = "message_receipts"
	readPositionsCollection = "case_read_positions"
)

// messageDocument is the BSON persistence shape for realtime.Message.
type messageDocument struct {
	ID                string    `bson:"_id"`
	TenantID          string    `bson:"tenant_id"`
	CaseID            string    `bson:"case_id"`
	AuthorID          string    `bson:"author_id"`
	Body              string    `bson:"body"`
	ClientMutationID  string    `bson:"client_mutation_id"`
	CreatedAt         time.Time `bson:"created_at"`
}

func (d messageDocument) toEntity() realtime.Message {
	return realtime.Message{
		ID: d.ID, TenantID: d.TenantID, CaseID: d.CaseID, AuthorID: d.AuthorID,
		Body: d.Body, ClientMutationID: d.ClientMutationID, CreatedAt: d.CreatedAt,
	}
}

func fromMessageEntity(m realtime.Message) messageDocument {
	return messageDocument{
		ID: m.ID, TenantID: m.TenantID, CaseID: m.CaseID, AuthorID: m.AuthorID,
		Body: m.Body, ClientMutationID: m.ClientMutationID, CreatedAt: m.CreatedAt,
	}
}

// MessageRepository implements realtime.MessageRepository over MongoDB.
type MessageRepository struct {
	connection *mmongo.Connection
}

// NewMessageRepository builds a MessageRepository.
func NewMessageRepository(c *mmongo.Connection) *MessageRepository {
	return &MessageRepository{connection: c}
}

func (r *MessageRepository) collection(ctx context.Context) (*mongo.Collection, error) {
	db, err := r.connection.DB(ctx)
	if err != nil {
		return nil, err
	}

	return db.Collection(messagesCollection), nil
}

// Insert persists a new chat message.
func (r *MessageRepository) Insert(ctx context.Context, m realtime.Message) error {
	tracer := motel.NewTracerFromContext(ctx)
	ctx, span := tracer.Start(ctx, "mongo.chat.insert_message")
	defer span.End()

	coll, err := r.collection(ctx)
	if err != nil {
		motel.HandleSpanError(&span, "get collection", err)
		return err
	}

	if _, err := coll.InsertOne(ctx, fromMessageEntity(m)); err != nil {
		motel.HandleSpanError(&span, "insert message", err)
		return fmt.Errorf("mongo chat: insert message: %w", err)
	}

	return nil
}

// Page implements the descending (createdAt, id) pagination contract.
// cursor, when non-nil, selects messages strictly older than the
// cursor's position.
func (r *MessageRepository) Page(ctx context.Context, tenantID, caseID string, cursor *realtime.Cursor, limit int) ([]realtime.Message, error) {
	tracer := motel.NewTracerFromContext(ctx)
	ctx, span := tracer.Start(ctx, "mongo.chat.page_messages")
	defer span.End()

	coll, err := r.collection(ctx)
	if err != nil {
		motel.HandleSpanError(&span, "get collection", err)
		return nil, err
	}

	filter := bson.M{"tenant_id": tenantID, "case_id": caseID}

	if cursor != nil {
		filter["$or"] = bson.A{
			bson.M{"created_at": bson.M{"$lt": cursor.CreatedAt}},
			bson.M{"created_at": cursor.CreatedAt, "_id": bson.M{"$lt": cursor.ID}},
		}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit + 1))

	rows, err := coll.Find(ctx, filter, opts)
	if err != nil {
		motel.HandleSpanError(&span, "find messages", err)
		return nil, fmt.Errorf("mongo chat: page messages: %w", err)
	}
	defer rows.Close(ctx)

	var docs []messageDocument
	if err := rows.All(ctx, &docs); err != nil {
		motel.HandleSpanError(&span, "decode messages", err)
		return nil, fmt.Errorf("mongo chat: decode messages: %w", err)
	}

	out := make([]realtime.Message, len(docs))
	for i, d := range docs {
		out[i] = d.toEntity()
	}

	return out, nil
}

// CountUnread implements spec.md §4.12's unread count rule.
func (r *MessageRepository) CountUnread(ctx context.Context, tenantID, caseID, userID string, afterCreatedAt *time.Time) (int, error) {
	tracer := motel.NewTracerFromContext(ctx)
	ctx, span := tracer.Start(ctx, "mongo.chat.count_unread")
	defer span.End()

	coll, err := r.collection(ctx)
	if err != nil {
		motel.HandleSpanError(&span, "get collection", err)
		return 0, err
	}

	filter := bson.M{
		"tenant_id": tenantID,
		"case_id":   caseID,
		"author_id": bson.M{"$ne": userID},
	}

	if afterCreatedAt != nil {
		filter["created_at"] = bson.M{"$gt": *afterCreatedAt}
	}

	n, err := coll.CountDocuments(ctx, filter)
	if err != nil {
		motel.HandleSpanError(&span, "count unread", err)
		return 0, fmt.Errorf("mongo chat: count unread: %w", err)
	}

	return int(n), nil
}

// GetCreatedAt resolves a message's createdAt timestamp.
func (r *MessageRepository) GetCreatedAt(ctx context.Context, tenantID, messageID string) (time.Time, error) {
	tracer := motel.NewTracerFromContext(ctx)
	ctx, span := tracer.Start(ctx, "mongo.chat.get_created_at")
	defer span.End()

	coll, err := r.collection(ctx)
	if err != nil {
		motel.HandleSpanError(&span, "get collection", err)
		return time.Time{}, err
	}

	var doc messageDocument
	if err := coll.FindOne(ctx, bson.M{"_id": messageID, "tenant_id": tenantID}).Decode(&doc); err != nil {
		motel.HandleSpanError(&span, "find message", err)
		return time.Time{}, fmt.Errorf("mongo chat: get created at: %w", err)
	}

	return doc.CreatedAt, nil
}

// ReceiptRepository implements realtime.ReceiptRepository over MongoDB.
type ReceiptRepository struct {
	connection *mmongo.Connection
}

// NewReceiptRepository builds a ReceiptRepository.
func NewReceiptRepository(c *mmongo.Connection) *ReceiptRepository {
	return &ReceiptRepository{connection: c}
}

func (r *ReceiptRepository) collection(ctx context.Context) (*mongo.Collection, error) {
	db, err := r.connection.DB(ctx)
	if err != nil {
		return nil, err
	}

	return db.Collection(receiptsCollection), nil
}

func (r *ReceiptRepository) upsert(ctx context.Context, tenantID, messageID, userID, field string, at time.Time) error {
	coll, err := r.collection(ctx)
	if err != nil {
		return err
	}

	id := tenantID + "/" + messageID + "/" + userID
	_, err = coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{
			"$set":         bson.M{field: at},
			"$setOnInsert": bson.M{"_id": id, "tenant_id": tenantID, "message_id": messageID, "user_id": userID},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("mongo chat: upsert receipt: %w", err)
	}

	return nil
}

// UpsertDelivered records a delivery receipt.
func (r *ReceiptRepository) UpsertDelivered(ctx context.Context, tenantID, messageID, userID string, at time.Time) error {
	return r.upsert(ctx, tenantID, messageID, userID, "delivered_at", at)
}

// UpsertSeen records a seen receipt.
func (r *ReceiptRepository) UpsertSeen(ctx context.Context, tenantID, messageID, userID string, at time.Time) error {
	return r.upsert(ctx, tenantID, messageID, userID, "seen_at", at)
}

// ReadPositionRepository implements realtime.ReadPositionRepository
// over MongoDB.
type ReadPositionRepository struct {
	connection *mmongo.Connection
}

// NewReadPositionRepository builds a ReadPositionRepository.
func NewReadPositionRepository(c *mmongo.Connection) *ReadPositionRepository {
	return &ReadPositionRepository{connection: c}
}

func (r *ReadPositionRepository) collection(ctx context.Context) (*mongo.Collection, error) {
	db, err := r.connection.DB(ctx)
	if err != nil {
		return nil, err
	}

	return db.Collection(readPositionsCollection), nil
}

type readPositionDocument struct {
	ID                string    `bson:"_id"`
	TenantID          string    `bson:"tenant_id"`
	CaseID            string    `bson:"case_id"`
	UserID            string    `bson:"user_id"`
	LastReadMessageID string    `bson:"last_read_message_id"`
	LastReadCreatedAt time.Time `bson:"last_read_created_at"`
	UpdatedAt         time.Time `bson:"updated_at"`
}

func readPositionID(tenantID, caseID, userID string) string {
	return tenantID + "/" + caseID + "/" + userID
}

// Get returns a user's read position for a case, or nil if none exists.
func (r *ReadPositionRepository) Get(ctx context.Context, tenantID, caseID, userID string) (*realtime.CaseReadPosition, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return nil, err
	}

	var doc readPositionDocument

	err = coll.FindOne(ctx, bson.M{"_id": readPositionID(tenantID, caseID, userID)}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil //nolint:nilnil
	}

	if err != nil {
		return nil, fmt.Errorf("mongo chat: get read position: %w", err)
	}

	return &realtime.CaseReadPosition{
		TenantID: doc.TenantID, CaseID: doc.CaseID, UserID: doc.UserID,
		LastReadMessageID: doc.LastReadMessageID, UpdatedAt: doc.UpdatedAt,
	}, nil
}

// AdvanceTo moves the read position forward only, per SPEC_FULL.md
// §4.13.2's monotonicity invariant: a filter on last_read_created_at
// makes the update a no-op when the incoming message is not newer
// than what is already stored.
func (r *ReadPositionRepository) AdvanceTo(ctx context.Context, tenantID, caseID, userID, messageID string, createdAt time.Time) (bool, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return false, err
	}

	id := readPositionID(tenantID, caseID, userID)
	now := time.Now().UTC()

	filter := bson.M{
		"_id": id,
		"$or": bson.A{
			bson.M{"last_read_created_at": bson.M{"$lt": createdAt}},
			bson.M{"last_read_created_at": bson.M{"$exists": false}},
		},
	}

	update := bson.M{
		"$set": bson.M{
			"last_read_message_id": messageID,
			"last_read_created_at": createdAt,
			"updated_at":            now,
		},
		"$setOnInsert": bson.M{"_id": id, "tenant_id": tenantID, "case_id": caseID, "user_id": userID},
	}

	res, err := coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		// a concurrent insert racing the upsert surfaces as a duplicate
		// key error; treat it as "did not advance" rather than failing.
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}

		return false, fmt.Errorf("mongo chat: advance read position: %w", err)
	}

	return res.ModifiedCount > 0 || res.UpsertedCount > 0, nil
}

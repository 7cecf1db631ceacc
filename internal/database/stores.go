package database

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/DaZeTw/LOL-PaperReader-sub000/models"
)

var ErrNotFound = errors.New("not found")

// Stores bundles typed collection handles so services don't pass raw
// *mongo.Database around.
type Stores struct {
	db *mongo.Database

	Documents    *mongo.Collection
	Chunks       *mongo.Collection
	ChatSessions *mongo.Collection
	ChatMessages *mongo.Collection
	Workspaces   *mongo.Collection
	Quotas       *mongo.Collection
}

func NewStores(client *mongo.Client, dbName string) *Stores {
	db := client.Database(dbName)
	return &Stores{
		db:           db,
		Documents:    db.Collection("documents"),
		Chunks:       db.Collection("chunks"),
		ChatSessions: db.Collection("chat_sessions"),
		ChatMessages: db.Collection("chat_messages"),
		Workspaces:   db.Collection("workspaces"),
		Quotas:       db.Collection("llm_quotas"),
	}
}

func (s *Stores) DB() *mongo.Database {
	return s.db
}

// ---- documents ----

func (s *Stores) GetDocument(ctx context.Context, docID string) (*models.Document, error) {
	oid, err := primitive.ObjectIDFromHex(docID)
	if err != nil {
		return nil, ErrNotFound
	}
	var doc models.Document
	err = s.Documents.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &doc, nil
}

// FindDocumentByHash supports upload dedupe: an identical PDF from the
// same user reuses the existing record instead of re-ingesting.
func (s *Stores) FindDocumentByHash(ctx context.Context, userID, fileHash string) (*models.Document, error) {
	var doc models.Document
	err := s.Documents.FindOne(ctx, bson.M{"user_id": userID, "file_hash": fileHash}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &doc, nil
}

// FindLatestDocumentByName resolves a filename to the user's most
// recently uploaded document with that name. Session titles embed the
// filename, so this is how a session binds to its paper.
func (s *Stores) FindLatestDocumentByName(ctx context.Context, userID, name string) (*models.Document, error) {
	filter := bson.M{
		"user_id": userID,
		"$or": []bson.M{
			{"original_name": name},
			{"filename": name},
		},
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "uploaded_at", Value: -1}})
	var doc models.Document
	err := s.Documents.FindOne(ctx, filter, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &doc, nil
}

func (s *Stores) ListDocuments(ctx context.Context, userID string) ([]models.Document, error) {
	opts := options.Find().SetSort(bson.D{{Key: "uploaded_at", Value: -1}})
	cursor, err := s.Documents.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []models.Document
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (s *Stores) InsertDocument(ctx context.Context, doc *models.Document) error {
	if doc.ID.IsZero() {
		doc.ID = primitive.NewObjectID()
	}
	_, err := s.Documents.InsertOne(ctx, doc)
	return err
}

// UpdateDocumentStatus sets the top-level pipeline status, clearing or
// recording the error message as appropriate.
func (s *Stores) UpdateDocumentStatus(ctx context.Context, docID, status, errMsg string) error {
	oid, err := primitive.ObjectIDFromHex(docID)
	if err != nil {
		return ErrNotFound
	}
	update := bson.M{"status": status}
	if errMsg != "" {
		update["error_message"] = errMsg
	}
	ops := bson.M{"$set": update}
	if errMsg == "" {
		ops["$unset"] = bson.M{"error_message": ""}
	}
	_, err = s.Documents.UpdateOne(ctx, bson.M{"_id": oid}, ops)
	return err
}

// UpdateFeatureStatus sets one feature flag (embedding, summary,
// references, skimming) on the document.
func (s *Stores) UpdateFeatureStatus(ctx context.Context, docID, feature, status string) error {
	oid, err := primitive.ObjectIDFromHex(docID)
	if err != nil {
		return ErrNotFound
	}
	_, err = s.Documents.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": bson.M{
		"features." + feature: status,
	}})
	return err
}

func (s *Stores) SetDocumentFields(ctx context.Context, docID string, fields bson.M) error {
	oid, err := primitive.ObjectIDFromHex(docID)
	if err != nil {
		return ErrNotFound
	}
	_, err = s.Documents.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": fields})
	return err
}

func (s *Stores) DeleteDocument(ctx context.Context, docID string) error {
	oid, err := primitive.ObjectIDFromHex(docID)
	if err != nil {
		return ErrNotFound
	}
	res, err := s.Documents.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- chunks ----

// ReplaceChunks swaps a document's chunk set: delete old, insert new.
// Re-ingestion always goes through here so stale chunks never linger.
func (s *Stores) ReplaceChunks(ctx context.Context, docID primitive.ObjectID, chunks []models.Chunk) error {
	if _, err := s.Chunks.DeleteMany(ctx, bson.M{"document_id": docID}); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}
	docs := make([]interface{}, len(chunks))
	for i := range chunks {
		if chunks[i].ID.IsZero() {
			chunks[i].ID = primitive.NewObjectID()
		}
		if chunks[i].CreatedAt.IsZero() {
			chunks[i].CreatedAt = time.Now()
		}
		docs[i] = chunks[i]
	}
	_, err := s.Chunks.InsertMany(ctx, docs)
	return err
}

func (s *Stores) GetChunksByDocument(ctx context.Context, docID primitive.ObjectID) ([]models.Chunk, error) {
	opts := options.Find().SetSort(bson.D{{Key: "ordinal", Value: 1}})
	cursor, err := s.Chunks.Find(ctx, bson.M{"document_id": docID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var chunks []models.Chunk
	if err := cursor.All(ctx, &chunks); err != nil {
		return nil, err
	}
	return chunks, nil
}

func (s *Stores) GetChunksByIDs(ctx context.Context, chunkIDs []string) ([]models.Chunk, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}
	cursor, err := s.Chunks.Find(ctx, bson.M{"chunk_id": bson.M{"$in": chunkIDs}})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var chunks []models.Chunk
	if err := cursor.All(ctx, &chunks); err != nil {
		return nil, err
	}
	return chunks, nil
}

func (s *Stores) CountChunks(ctx context.Context, docID primitive.ObjectID) (int64, error) {
	return s.Chunks.CountDocuments(ctx, bson.M{"document_id": docID})
}

func (s *Stores) DeleteChunks(ctx context.Context, docID primitive.ObjectID) error {
	_, err := s.Chunks.DeleteMany(ctx, bson.M{"document_id": docID})
	return err
}

// ---- chat sessions ----

func (s *Stores) GetSession(ctx context.Context, sessionID string) (*models.ChatSession, error) {
	oid, err := primitive.ObjectIDFromHex(sessionID)
	if err != nil {
		return nil, ErrNotFound
	}
	var sess models.ChatSession
	err = s.ChatSessions.FindOne(ctx, bson.M{"_id": oid}).Decode(&sess)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sess, nil
}

// FindSessionByTitle supports session dedupe: creating a session with a
// title the user already used returns the existing one.
func (s *Stores) FindSessionByTitle(ctx context.Context, userID, title string) (*models.ChatSession, error) {
	var sess models.ChatSession
	err := s.ChatSessions.FindOne(ctx, bson.M{"user_id": userID, "title": title}).Decode(&sess)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sess, nil
}

func (s *Stores) InsertSession(ctx context.Context, sess *models.ChatSession) error {
	if sess.ID.IsZero() {
		sess.ID = primitive.NewObjectID()
	}
	_, err := s.ChatSessions.InsertOne(ctx, sess)
	return err
}

func (s *Stores) TouchSession(ctx context.Context, sessionID primitive.ObjectID) error {
	_, err := s.ChatSessions.UpdateOne(ctx, bson.M{"_id": sessionID},
		bson.M{"$set": bson.M{"updated_at": time.Now()}})
	return err
}

// DeleteSessionsByDocument removes a document's sessions and their
// messages. Used when the document itself is deleted.
func (s *Stores) DeleteSessionsByDocument(ctx context.Context, docID primitive.ObjectID) error {
	cursor, err := s.ChatSessions.Find(ctx, bson.M{"document_id": docID})
	if err != nil {
		return err
	}
	defer cursor.Close(ctx)

	var sessions []models.ChatSession
	if err := cursor.All(ctx, &sessions); err != nil {
		return err
	}
	for _, sess := range sessions {
		if _, err := s.ChatMessages.DeleteMany(ctx, bson.M{"session_id": sess.ID}); err != nil {
			return err
		}
	}
	_, err = s.ChatSessions.DeleteMany(ctx, bson.M{"document_id": docID})
	return err
}

// ---- workspaces ----

// EnsureDefaultWorkspace upserts the user's default workspace and
// returns its id.
func (s *Stores) EnsureDefaultWorkspace(ctx context.Context, userID string) (primitive.ObjectID, error) {
	filter := bson.M{"user_id": userID, "name": models.DefaultWorkspaceName}
	update := bson.M{
		"$set":         bson.M{"updated_at": time.Now()},
		"$setOnInsert": bson.M{"created_at": time.Now()},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var ws models.Workspace
	if err := s.Workspaces.FindOneAndUpdate(ctx, filter, update, opts).Decode(&ws); err != nil {
		return primitive.NilObjectID, err
	}
	return ws.ID, nil
}

func (s *Stores) AddDocumentToWorkspace(ctx context.Context, wsID, docID primitive.ObjectID) error {
	_, err := s.Workspaces.UpdateOne(ctx, bson.M{"_id": wsID}, bson.M{
		"$addToSet": bson.M{"document_ids": docID},
		"$set":      bson.M{"updated_at": time.Now()},
	})
	return err
}

// RemoveDocumentFromWorkspaces pulls a deleted document's id from every
// workspace the user owns.
func (s *Stores) RemoveDocumentFromWorkspaces(ctx context.Context, userID string, docID primitive.ObjectID) error {
	_, err := s.Workspaces.UpdateMany(ctx, bson.M{"user_id": userID}, bson.M{
		"$pull": bson.M{"document_ids": docID},
		"$set":  bson.M{"updated_at": time.Now()},
	})
	return err
}

// ---- chat messages ----

func (s *Stores) InsertMessage(ctx context.Context, msg *models.ChatMessage) error {
	if msg.ID.IsZero() {
		msg.ID = primitive.NewObjectID()
	}
	_, err := s.ChatMessages.InsertOne(ctx, msg)
	return err
}

func (s *Stores) GetSessionMessages(ctx context.Context, sessionID primitive.ObjectID, limit int64) ([]models.ChatMessage, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if limit > 0 {
		opts = opts.SetLimit(limit)
	}
	cursor, err := s.ChatMessages.Find(ctx, bson.M{"session_id": sessionID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var msgs []models.ChatMessage
	if err := cursor.All(ctx, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

package ai

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

var ErrQuotaExceeded = errors.New("daily token quota exceeded")

// UserQuota tracks per-user daily LLM token consumption. The window
// resets at UTC midnight; the date field doubles as the reset marker.
type UserQuota struct {
	UserID          string    `bson:"user_id"`
	Date            time.Time `bson:"date"`
	DailyTokenLimit int       `bson:"daily_token_limit"`
	TokensUsed      int       `bson:"tokens_used"`
	RequestsToday   int       `bson:"requests_today"`
	UpdatedAt       time.Time `bson:"updated_at"`
}

func utcToday() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// CheckAndConsume verifies the user has room for estimatedTokens and
// records the usage. One document per user per day; yesterday's records
// simply stop matching.
func CheckAndConsume(ctx context.Context, quotas *mongo.Collection, userID string, estimatedTokens, defaultLimit int) error {
	today := utcToday()
	now := time.Now()

	var quota UserQuota
	err := quotas.FindOne(ctx, bson.M{"user_id": userID, "date": today}).Decode(&quota)
	if err != nil {
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return err
		}
		quota = UserQuota{
			UserID:          userID,
			Date:            today,
			DailyTokenLimit: defaultLimit,
			UpdatedAt:       now,
		}
		if _, err := quotas.InsertOne(ctx, quota); err != nil {
			// Another request raced us; re-read below
			if !mongo.IsDuplicateKeyError(err) {
				return err
			}
		}
	}

	limit := quota.DailyTokenLimit
	if limit <= 0 {
		limit = defaultLimit
	}
	if quota.TokensUsed+estimatedTokens > limit {
		return ErrQuotaExceeded
	}

	_, err = quotas.UpdateOne(ctx,
		bson.M{"user_id": userID, "date": today},
		bson.M{
			"$inc": bson.M{
				"tokens_used":    estimatedTokens,
				"requests_today": 1,
			},
			"$set": bson.M{"updated_at": now},
		},
	)
	return err
}

// QuotaStatus returns today's usage for a user, zeroed when absent.
func QuotaStatus(ctx context.Context, quotas *mongo.Collection, userID string, defaultLimit int) (*UserQuota, error) {
	var quota UserQuota
	err := quotas.FindOne(ctx, bson.M{"user_id": userID, "date": utcToday()}).Decode(&quota)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return &UserQuota{
				UserID:          userID,
				Date:            utcToday(),
				DailyTokenLimit: defaultLimit,
			}, nil
		}
		return nil, err
	}
	return &quota, nil
}

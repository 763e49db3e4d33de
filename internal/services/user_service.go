package services

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"homebid/internal/apperrors"
	"homebid/internal/db"
	"homebid/internal/models"
	"homebid/internal/utils"
)

// IUserService resolves the minimal identity used for ownership checks and
// notification addressing.
type IUserService interface {
	CreateUser(ctx context.Context, name, email, phone string) (*models.User, error)
	FindByID(ctx context.Context, userID utils.SixID) (*models.User, error)
}

const usersCollection = "users"

type userService struct {
	db *mongo.Database
}

// NewUserService creates a new UserService.
func NewUserService(db *mongo.Database) IUserService {
	return &userService{db: db}
}

// CreateUser inserts a user record.
func (s *userService) CreateUser(ctx context.Context, name, email, phone string) (*models.User, error) {
	if email == "" {
		return nil, apperrors.Validation("user email is required")
	}
	now := time.Now().UTC()
	user := &models.User{
		Name:      name,
		Email:     email,
		Phone:     phone,
		CreatedAt: now,
		UpdatedAt: now,
	}
	doc, err := db.InsertOne(ctx, s.db.Collection(usersCollection), user)
	if err != nil {
		return nil, apperrors.Persistence(err, "failed to insert user")
	}
	return doc.(*models.User), nil
}

// FindByID finds a non-deleted user by ID.
func (s *userService) FindByID(ctx context.Context, userID utils.SixID) (*models.User, error) {
	var user models.User
	filter := bson.M{"_id": userID, "deleted": false}
	err := s.db.Collection(usersCollection).FindOne(ctx, filter).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperrors.NotFound("user %s not found", userID.String())
		}
		return nil, apperrors.Persistence(err, "error finding user %s", userID.String())
	}
	return &user, nil
}

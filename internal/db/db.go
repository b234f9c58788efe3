// Package db manages the MongoDB connection and collection handles backing
// the document store.
package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/PaulBabatuyi/chatcore/internal/data"
)

// Client wraps mongo.Client and exposes the chat database.
type Client struct {
	client *mongo.Client
	db     *mongo.Database
}

// New connects to MongoDB, pings it, and returns a Client. The connection
// attempt fails fast (10s connect timeout, 5s ping) so a misconfigured URI
// surfaces at startup rather than on first use.
func New(ctx context.Context, mongoURI string) (*Client, error) {
	opts := options.Client().
		ApplyURI(mongoURI).
		SetConnectTimeout(10 * time.Second)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &Client{
		client: client,
		db:     client.Database("chatcore_db"),
	}, nil
}

// Database returns the chat database handle.
func (c *Client) Database() *mongo.Database {
	return c.db
}

// Close disconnects from MongoDB.
func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// CreateIndexes ensures the indexes the manager's queries rely on:
// a unique email per profile, message lookup by conversation in time order,
// and the chat-list sort by recency.
func (c *Client) CreateIndexes(ctx context.Context) error {
	usersIndex := mongo.IndexModel{
		Keys:    map[string]int{data.FieldEmail: 1},
		Options: options.Index().SetUnique(true).SetSparse(true),
	}
	if _, err := c.db.Collection(data.CollUsers).Indexes().CreateOne(ctx, usersIndex); err != nil {
		return fmt.Errorf("failed to create users index: %w", err)
	}

	messagesIndex := mongo.IndexModel{
		Keys: map[string]int{data.FieldChatID: 1, data.FieldCreatedAt: 1},
	}
	if _, err := c.db.Collection(data.CollMessages).Indexes().CreateOne(ctx, messagesIndex); err != nil {
		return fmt.Errorf("failed to create messages index: %w", err)
	}

	chatsIndex := mongo.IndexModel{
		Keys: map[string]int{data.FieldLastUpdated: -1},
	}
	if _, err := c.db.Collection(data.CollChats).Indexes().CreateOne(ctx, chatsIndex); err != nil {
		return fmt.Errorf("failed to create chats index: %w", err)
	}
	return nil
}

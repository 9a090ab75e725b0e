package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"analytics-workspace/internal/domain"
)

const (
	skPrefixTurn = "TURN#"
	skMeta       = "META#"
	ttlDuration  = 30 * 24 * time.Hour // 30-day TTL
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// SessionStore defines the session operations consumed by the use cases.
type SessionStore interface {
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	GetTurns(ctx context.Context, sessionID string, limit int) ([]domain.Turn, error)
	SaveCompletedChat(ctx context.Context, rec ChatRecord) error
}

// ChatRecord is one successful chat exchange together with the session state
// it leaves behind.
type ChatRecord struct {
	SessionID      string
	Slug           string
	SpaceID        string
	ConversationID string
	Query          string
	Outputs        int
	Turns          int
}

// Client stores sessions in a single DynamoDB table.
type Client struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

func sessionPK(sessionID string) string {
	return "SESSION#" + sessionID
}

// turnSK sorts turns chronologically within a session.
func turnSK(ts time.Time) string {
	return skPrefixTurn + ts.UTC().Format(time.RFC3339Nano)
}

func ttlValue() int64 {
	return time.Now().Add(ttlDuration).Unix()
}

// GetSession returns the session metadata, or nil when the session is unknown.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: GetSession get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, nil
	}

	s, err := itemToSession(out.Item)
	if err != nil {
		return nil, fmt.Errorf("repository: GetSession decode: %w", err)
	}
	return &s, nil
}

// GetTurns returns up to limit of the most recent turns, oldest first.
func (c *Client) GetTurns(ctx context.Context, sessionID string, limit int) ([]domain.Turn, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixTurn},
		},
		ScanIndexForward: aws.Bool(false),
	}
	if limit > 0 {
		in.Limit = aws.Int32(int32(limit))
	}

	out, err := c.api.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("repository: GetTurns query: %w", err)
	}
	if out == nil {
		return nil, nil
	}

	turns := make([]domain.Turn, 0, len(out.Items))
	for _, item := range out.Items {
		turn, err := itemToTurn(item)
		if err != nil {
			return nil, fmt.Errorf("repository: GetTurns unmarshal: %w", err)
		}
		turns = append(turns, turn)
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// SaveTurn writes the turn and the updated session in one transaction.
func (c *Client) SaveTurn(ctx context.Context, turn domain.Turn, session domain.Session) error {
	if turn.PK == "" || turn.SK == "" {
		return errors.New("repository: SaveTurn: turn PK and SK are required")
	}
	if session.PK == "" || session.SK == "" {
		return errors.New("repository: SaveTurn: session PK and SK are required")
	}

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                turnItem(turn),
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
			{
				Put: &types.Put{
					TableName: aws.String(c.tableName),
					Item:      sessionItem(session),
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: SaveTurn: %w", err)
	}
	return nil
}

// SaveCompletedChat persists a successful exchange and the session state after it.
func (c *Client) SaveCompletedChat(ctx context.Context, rec ChatRecord) error {
	if strings.TrimSpace(rec.SessionID) == "" {
		return errors.New("repository: SaveCompletedChat: session id is required")
	}
	turn := NewTurn(rec.SessionID, rec.ConversationID, rec.Query, rec.Outputs)
	session := NewSession(rec.SessionID, rec.Slug, rec.SpaceID, rec.ConversationID, rec.Turns)
	if err := c.SaveTurn(ctx, turn, session); err != nil {
		return fmt.Errorf("repository: SaveCompletedChat: %w", err)
	}
	return nil
}

// NewTurn constructs a Turn keyed by sessionID and the current time.
func NewTurn(sessionID, conversationID, query string, outputs int) domain.Turn {
	now := time.Now().UTC()
	return domain.Turn{
		PK:             sessionPK(sessionID),
		SK:             turnSK(now),
		SessionID:      sessionID,
		ConversationID: conversationID,
		Query:          query,
		Outputs:        outputs,
		CreatedAt:      now.Format(time.RFC3339Nano),
		TTL:            ttlValue(),
	}
}

// NewSession constructs the session metadata record.
func NewSession(sessionID, slug, spaceID, conversationID string, turns int) domain.Session {
	return domain.Session{
		PK:             sessionPK(sessionID),
		SK:             skMeta,
		SessionID:      sessionID,
		Slug:           slug,
		SpaceID:        spaceID,
		ConversationID: conversationID,
		LastActivity:   time.Now().UTC().Format(time.RFC3339),
		Turns:          turns,
		TTL:            ttlValue(),
	}
}

func itemToSession(item map[string]types.AttributeValue) (domain.Session, error) {
	pk, err := strAttr(item, "PK")
	if err != nil {
		return domain.Session{}, err
	}
	sessionID, err := strAttr(item, "sessionId")
	if err != nil {
		return domain.Session{}, err
	}
	slug, err := strAttr(item, "slug")
	if err != nil {
		return domain.Session{}, err
	}
	turns, err := intAttr(item, "turns")
	if err != nil {
		return domain.Session{}, err
	}
	// conversationId is empty until the first chat completes.
	spaceID, _ := strAttr(item, "spaceId")
	conversationID, _ := strAttr(item, "conversationId")
	lastActivity, _ := strAttr(item, "lastActivity")

	return domain.Session{
		PK:             pk,
		SK:             skMeta,
		SessionID:      sessionID,
		Slug:           slug,
		SpaceID:        spaceID,
		ConversationID: conversationID,
		LastActivity:   lastActivity,
		Turns:          turns,
	}, nil
}

func itemToTurn(item map[string]types.AttributeValue) (domain.Turn, error) {
	pk, err := strAttr(item, "PK")
	if err != nil {
		return domain.Turn{}, err
	}
	sk, err := strAttr(item, "SK")
	if err != nil {
		return domain.Turn{}, err
	}
	query, err := strAttr(item, "query")
	if err != nil {
		return domain.Turn{}, err
	}
	outputs, _ := intAttr(item, "outputs")
	sessionID, _ := strAttr(item, "sessionId")
	conversationID, _ := strAttr(item, "conversationId")
	createdAt, _ := strAttr(item, "createdAt")

	return domain.Turn{
		PK:             pk,
		SK:             sk,
		SessionID:      sessionID,
		ConversationID: conversationID,
		Query:          query,
		Outputs:        outputs,
		CreatedAt:      createdAt,
	}, nil
}

func turnItem(turn domain.Turn) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: turn.PK},
		"SK":             &types.AttributeValueMemberS{Value: turn.SK},
		"sessionId":      &types.AttributeValueMemberS{Value: turn.SessionID},
		"conversationId": &types.AttributeValueMemberS{Value: turn.ConversationID},
		"query":          &types.AttributeValueMemberS{Value: turn.Query},
		"outputs":        &types.AttributeValueMemberN{Value: strconv.Itoa(turn.Outputs)},
		"createdAt":      &types.AttributeValueMemberS{Value: turn.CreatedAt},
		"ttl":            &types.AttributeValueMemberN{Value: strconv.FormatInt(turn.TTL, 10)},
	}
}

func sessionItem(s domain.Session) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: s.PK},
		"SK":             &types.AttributeValueMemberS{Value: s.SK},
		"sessionId":      &types.AttributeValueMemberS{Value: s.SessionID},
		"slug":           &types.AttributeValueMemberS{Value: s.Slug},
		"spaceId":        &types.AttributeValueMemberS{Value: s.SpaceID},
		"conversationId": &types.AttributeValueMemberS{Value: s.ConversationID},
		"lastActivity":   &types.AttributeValueMemberS{Value: s.LastActivity},
		"turns":          &types.AttributeValueMemberN{Value: strconv.Itoa(s.Turns)},
		"ttl":            &types.AttributeValueMemberN{Value: strconv.FormatInt(s.TTL, 10)},
	}
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

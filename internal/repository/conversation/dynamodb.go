package conversation

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

	"github.com/kailas-cloud/llmgate/internal/domain"
)

const (
	skPrefixMsg = "MSG#"
	skMeta      = "META#"

	// skTimeLayout is fixed width so lexical SK order is chronological.
	skTimeLayout = "2006-01-02T15:04:05.000000000Z"
)

// dynamodbAPI is the subset of the DynamoDB client the store needs.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoStore keeps turns in a single table keyed by PK=CONV#<account>#<session>
// and SK=MSG#<created>#<id>.
type DynamoStore struct {
	api   dynamodbAPI
	table string
	ttl   time.Duration
	now   func() time.Time
}

// NewDynamoStore creates a DynamoDB conversation store. ttl 0 disables the ttl attribute.
func NewDynamoStore(api dynamodbAPI, table string, ttl time.Duration) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("conversation: dynamodb api must not be nil")
	}
	if strings.TrimSpace(table) == "" {
		return nil, errors.New("conversation: table name must not be empty")
	}
	return &DynamoStore{api: api, table: table, ttl: ttl, now: time.Now}, nil
}

func convPK(account, session string) string {
	return "CONV#" + account + "#" + session
}

func msgSK(turn domain.ConversationTurn) string {
	return skPrefixMsg + turn.CreatedAt.UTC().Format(skTimeLayout) + "#" + turn.ID
}

// AppendTurn persists turn and returns it with ID and CreatedAt filled in.
func (d *DynamoStore) AppendTurn(
	ctx context.Context, account, session string, turn domain.ConversationTurn,
) (domain.ConversationTurn, error) {
	turn = stamp(turn, d.now)

	item := map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: convPK(account, session)},
		"SK":        &types.AttributeValueMemberS{Value: msgSK(turn)},
		"id":        &types.AttributeValueMemberS{Value: turn.ID},
		"role":      &types.AttributeValueMemberS{Value: string(turn.Role)},
		"text":      &types.AttributeValueMemberS{Value: turn.Text},
		"createdAt": &types.AttributeValueMemberS{Value: turn.CreatedAt.Format(time.RFC3339Nano)},
	}
	if turn.Model != "" {
		item["model"] = &types.AttributeValueMemberS{Value: turn.Model}
		item["tokens"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(turn.Tokens, 10)}
		item["costCents"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(turn.CostCents, 10)}
	}
	d.setTTL(item)

	_, err := d.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return domain.ConversationTurn{}, fmt.Errorf("conversation: put turn: %w", err)
	}
	return turn, nil
}

// LoadRecentTurns reads newest first so the limit keeps the latest context,
// then reverses into chronological order.
func (d *DynamoStore) LoadRecentTurns(
	ctx context.Context, account, session string, limit int,
) ([]domain.ConversationTurn, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(d.table),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: convPK(account, session)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
		ScanIndexForward: aws.Bool(false),
	}
	if limit > 0 {
		in.Limit = aws.Int32(int32(limit)) //nolint:gosec // history limit is a small config value
	}

	out, err := d.api.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("conversation: query turns: %w", err)
	}

	turns := make([]domain.ConversationTurn, 0, len(out.Items))
	for _, item := range out.Items {
		t, err := itemToTurn(item)
		if err != nil {
			return nil, fmt.Errorf("conversation: decode turn: %w", err)
		}
		turns = append(turns, t)
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// EnsureSession writes the META# item once; later calls are no-ops.
func (d *DynamoStore) EnsureSession(ctx context.Context, account, session, title string) error {
	item := map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: convPK(account, session)},
		"SK":        &types.AttributeValueMemberS{Value: skMeta},
		"title":     &types.AttributeValueMemberS{Value: title},
		"account":   &types.AttributeValueMemberS{Value: account},
		"createdAt": &types.AttributeValueMemberS{Value: d.now().UTC().Format(time.RFC3339Nano)},
	}
	d.setTTL(item)

	_, err := d.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil
		}
		return fmt.Errorf("conversation: put meta: %w", err)
	}
	return nil
}

func (d *DynamoStore) setTTL(item map[string]types.AttributeValue) {
	if d.ttl <= 0 {
		return
	}
	item["ttl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(d.now().Add(d.ttl).Unix(), 10)}
}

func itemToTurn(item map[string]types.AttributeValue) (domain.ConversationTurn, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.ConversationTurn{}, err
	}
	role, err := strAttr(item, "role")
	if err != nil {
		return domain.ConversationTurn{}, err
	}
	text, err := strAttr(item, "text")
	if err != nil {
		return domain.ConversationTurn{}, err
	}
	created, err := strAttr(item, "createdAt")
	if err != nil {
		return domain.ConversationTurn{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return domain.ConversationTurn{}, fmt.Errorf("parse createdAt: %w", err)
	}

	t := domain.ConversationTurn{ID: id, Role: domain.Role(role), Text: text, CreatedAt: ts}
	t.Model, _ = strAttr(item, "model") // assistant turns only
	t.Tokens, _ = intAttr(item, "tokens")
	t.CostCents, _ = intAttr(item, "costCents")
	return t, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

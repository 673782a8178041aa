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

	"psych-agent/internal/domain"
)

const (
	skProfile   = "PROFILE"
	skUsername  = "USERNAME"
	skMemory    = "MEMORY"
	pkCounter   = "COUNTER"
	skUserSeq   = "USER"
	attrSeq     = "seq"
	attrPersona = "persona"
	attrSummary = "summary"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client stores users and their conversation summaries in a single DynamoDB
// table keyed by PK/SK.
type Client struct {
	api       dynamodbAPI
	tableName string
}

var _ Store = (*Client)(nil)

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

func userPK(id int64) string {
	return "USER#" + strconv.FormatInt(id, 10)
}

func usernamePK(name string) string {
	return "USERNAME#" + name
}

func key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

// InsertUser allocates the next user id and claims the name in one
// transaction. A name that is already claimed yields ErrConflict.
func (c *Client) InsertUser(ctx context.Context, name, persona string) (domain.User, error) {
	id, err := c.nextUserID(ctx)
	if err != nil {
		return domain.User{}, fmt.Errorf("repository: InsertUser: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	user := domain.User{ID: id, Name: name, Persona: aws.String(persona)}

	claim := key(usernamePK(name), skUsername)
	claim["userId"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(id, 10)}
	claim["createdAt"] = &types.AttributeValueMemberS{Value: now}

	profile := profileItem(user)
	profile["createdAt"] = &types.AttributeValueMemberS{Value: now}

	_, err = c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                claim,
					ConditionExpression: aws.String("attribute_not_exists(PK)"),
				},
			},
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                profile,
					ConditionExpression: aws.String("attribute_not_exists(PK)"),
				},
			},
		},
	})
	if err != nil {
		if nameClaimRejected(err) {
			return domain.User{}, fmt.Errorf("repository: InsertUser %q: %w", name, ErrConflict)
		}
		return domain.User{}, fmt.Errorf("repository: InsertUser: %w", err)
	}
	return user, nil
}

// nextUserID atomically increments the user sequence counter.
func (c *Client) nextUserID(ctx context.Context) (int64, error) {
	out, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(c.tableName),
		Key:              key(pkCounter, skUserSeq),
		UpdateExpression: aws.String("ADD #seq :one"),
		ExpressionAttributeNames: map[string]string{
			"#seq": attrSeq,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("allocate user id: %w", err)
	}
	if out == nil {
		return 0, errors.New("allocate user id: empty response")
	}
	id, err := intAttr(out.Attributes, attrSeq)
	if err != nil {
		return 0, fmt.Errorf("allocate user id: %w", err)
	}
	return id, nil
}

// FindUserByID returns the user profile, or nil if no such user exists.
func (c *Client) FindUserByID(ctx context.Context, id int64) (*domain.User, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            key(userPK(id), skProfile),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: FindUserByID get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, nil
	}
	user, err := itemToUser(out.Item)
	if err != nil {
		return nil, fmt.Errorf("repository: FindUserByID decode: %w", err)
	}
	return &user, nil
}

// FindUserByName resolves the name claim and then loads the profile.
func (c *Client) FindUserByName(ctx context.Context, name string) (*domain.User, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            key(usernamePK(name), skUsername),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: FindUserByName get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, nil
	}
	id, err := intAttr(out.Item, "userId")
	if err != nil {
		return nil, fmt.Errorf("repository: FindUserByName decode: %w", err)
	}
	return c.FindUserByID(ctx, id)
}

// UpdateUserPersona replaces the persona of an existing user. It returns 0
// when the user does not exist.
func (c *Client) UpdateUserPersona(ctx context.Context, id int64, persona string) (int64, error) {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 key(userPK(id), skProfile),
		UpdateExpression:    aws.String("SET #persona = :persona"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeNames: map[string]string{
			"#persona": attrPersona,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":persona": &types.AttributeValueMemberS{Value: persona},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return 0, nil
		}
		return 0, fmt.Errorf("repository: UpdateUserPersona: %w", err)
	}
	return 1, nil
}

// FindSummary returns the stored summary for a user, or nil if none exists.
func (c *Client) FindSummary(ctx context.Context, userID int64) (*string, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            key(userPK(userID), skMemory),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: FindSummary get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, nil
	}
	if _, ok := out.Item[attrSummary]; !ok {
		return nil, nil
	}
	summary, err := strAttr(out.Item, attrSummary)
	if err != nil {
		return nil, fmt.Errorf("repository: FindSummary decode: %w", err)
	}
	return &summary, nil
}

// UpsertSummary writes or replaces the memory record for a user.
func (c *Client) UpsertSummary(ctx context.Context, userID int64, summary string) error {
	item := key(userPK(userID), skMemory)
	item["userId"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(userID, 10)}
	item[attrSummary] = &types.AttributeValueMemberS{Value: summary}
	item["updatedAt"] = &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("repository: UpsertSummary: %w", err)
	}
	return nil
}

// nameClaimRejected reports whether a TransactWriteItems failure was caused by
// the username claim (first item) failing its condition.
func nameClaimRejected(err error) bool {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return false
	}
	if len(tce.CancellationReasons) == 0 {
		return false
	}
	return aws.ToString(tce.CancellationReasons[0].Code) == "ConditionalCheckFailed"
}

func profileItem(u domain.User) map[string]types.AttributeValue {
	item := key(userPK(u.ID), skProfile)
	item["userId"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(u.ID, 10)}
	item["name"] = &types.AttributeValueMemberS{Value: u.Name}
	if u.Persona != nil {
		item[attrPersona] = &types.AttributeValueMemberS{Value: *u.Persona}
	}
	return item
}

// itemToUser converts a DynamoDB profile item to a User.
func itemToUser(item map[string]types.AttributeValue) (domain.User, error) {
	id, err := intAttr(item, "userId")
	if err != nil {
		return domain.User{}, err
	}
	name, err := strAttr(item, "name")
	if err != nil {
		return domain.User{}, err
	}
	user := domain.User{ID: id, Name: name}
	if _, ok := item[attrPersona]; ok {
		persona, err := strAttr(item, attrPersona)
		if err != nil {
			return domain.User{}, err
		}
		user.Persona = &persona
	}
	return user, nil
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

func intAttr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

// Package ses delivers digest emails through AWS SES v2.
package ses

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/ignite/insight-digest/internal/pkg/logger"
	"github.com/ignite/insight-digest/internal/service/notify"
)

const charset = "UTF-8"

// Config holds the SES sending settings. Empty keys fall back to the
// default AWS credential chain.
type Config struct {
	Region           string
	AccessKey        string
	SecretKey        string
	FromEmail        string
	FromName         string
	ReplyTo          string
	ConfigurationSet string
}

// API is the subset of the SES v2 client used for sending.
type API interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Mailer implements notify.Mailer on SES.
type Mailer struct {
	api  API
	cfg  Config
	from string
}

// NewMailer loads AWS config and builds an SES-backed mailer.
func NewMailer(ctx context.Context, cfg Config) (*Mailer, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return NewMailerWithAPI(sesv2.NewFromConfig(awsCfg), cfg), nil
}

// NewMailerWithAPI builds a mailer on an existing client.
func NewMailerWithAPI(api API, cfg Config) *Mailer {
	from := cfg.FromEmail
	if cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", cfg.FromName, cfg.FromEmail)
	}
	return &Mailer{api: api, cfg: cfg, from: from}
}

// Send delivers msg and returns the SES message id.
func (m *Mailer) Send(ctx context.Context, msg notify.Message) (string, error) {
	if msg.To == "" {
		return "", errors.New("ses: empty recipient")
	}

	body := &types.Body{
		Html: &types.Content{Data: aws.String(msg.HTML), Charset: aws.String(charset)},
	}
	if msg.Text != "" {
		body.Text = &types.Content{Data: aws.String(msg.Text), Charset: aws.String(charset)}
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(m.from),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String(charset)},
				Body:    body,
			},
		},
		EmailTags: messageTags(msg.Tags),
	}
	if m.cfg.ReplyTo != "" {
		input.ReplyToAddresses = []string{m.cfg.ReplyTo}
	}
	if m.cfg.ConfigurationSet != "" {
		input.ConfigurationSetName = aws.String(m.cfg.ConfigurationSet)
	}

	out, err := m.api.SendEmail(ctx, input)
	if err != nil {
		return "", fmt.Errorf("ses: send email: %w", err)
	}

	id := aws.ToString(out.MessageId)
	logger.Debug("ses email accepted", "recipient", msg.To, "message_id", id)
	return id, nil
}

// messageTags sorts by name so the request is deterministic.
func messageTags(tags map[string]string) []types.MessageTag {
	if len(tags) == 0 {
		return nil
	}
	names := make([]string, 0, len(tags))
	for k := range tags {
		names = append(names, k)
	}
	sort.Strings(names)
	out := make([]types.MessageTag, 0, len(names))
	for _, k := range names {
		out = append(out, types.MessageTag{Name: aws.String(k), Value: aws.String(tags[k])})
	}
	return out
}

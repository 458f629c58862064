package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"go.uber.org/multierr"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/trademon/trademon-backend/pkg/config"
	"github.com/trademon/trademon-backend/pkg/logger"
)

const (
	kindTopic        = "topics"
	kindSubscription = "subscriptions"
)

var errProjectIDRequired = errors.New("gcp project id is required")

// Client hands out publishers and subscribers for the domain event topic,
// its analytics and notify subscriptions, and the push mirror topic.
type Client struct {
	client    *pubsub.Client
	projectID string
	cfg       config.PubSubConfig

	topics        []string
	subscriptions []string
}

// Option declares a resource the calling binary cannot run without.
type Option func(*Client)

// RequireTopics makes NewClient and Ping fail unless every named topic exists.
func RequireTopics(names ...string) Option {
	return func(c *Client) { c.topics = appendNames(c.topics, names) }
}

// RequireSubscriptions makes NewClient and Ping fail unless every named
// subscription exists.
func RequireSubscriptions(names ...string) Option {
	return func(c *Client) { c.subscriptions = appendNames(c.subscriptions, names) }
}

func appendNames(dst, names []string) []string {
	for _, name := range names {
		if name = strings.TrimSpace(name); name != "" {
			dst = append(dst, name)
		}
	}
	return dst
}

// NewClient connects to Pub/Sub, preferring inline credentials JSON over a
// credentials file, and verifies the resources declared through opts.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger, opts ...Option) (*Client, error) {
	if strings.TrimSpace(gcp.ProjectID) == "" {
		return nil, errProjectIDRequired
	}

	var clientOpts []option.ClientOption
	if creds := strings.TrimSpace(gcp.CredentialsJSON); creds != "" {
		clientOpts = append(clientOpts, option.WithCredentialsJSON([]byte(creds)))
	} else if file := strings.TrimSpace(gcp.ApplicationCredentials); file != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(file))
	}
	psClient, err := pubsub.NewClient(ctx, gcp.ProjectID, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	c := &Client{client: psClient, projectID: strings.TrimSpace(gcp.ProjectID), cfg: cfg}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.verify(ctx); err != nil {
		_ = psClient.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"project":       c.projectID,
			"topics":        c.topics,
			"subscriptions": c.subscriptions,
		}), "pubsub client initialized")
	}
	return c, nil
}

// verify reports every missing resource at once.
func (c *Client) verify(ctx context.Context) error {
	var errs error
	for _, name := range c.topics {
		_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{
			Topic: c.resourceName(kindTopic, name),
		})
		errs = multierr.Append(errs, describeLookup("topic", name, err))
	}
	for _, name := range c.subscriptions {
		_, err := c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{
			Subscription: c.resourceName(kindSubscription, name),
		})
		errs = multierr.Append(errs, describeLookup("subscription", name, err))
	}
	return errs
}

func describeLookup(kind, name string, err error) error {
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("%s %q does not exist", kind, name)
	case status.Code(err) == codes.PermissionDenied:
		return fmt.Errorf("%s %q: permission denied: %w", kind, name, err)
	default:
		return fmt.Errorf("checking %s %q: %w", kind, name, err)
	}
}

// Subscription returns a subscriber with flow control taken from config.
func (c *Client) Subscription(name string) *pubsub.Subscriber {
	if c == nil || c.client == nil {
		return nil
	}
	fullName := c.resourceName(kindSubscription, name)
	if fullName == "" {
		return nil
	}
	sub := c.client.Subscriber(fullName)
	if c.cfg.MaxOutstanding > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = c.cfg.MaxOutstanding
	}
	if c.cfg.ReceiveGoroutines > 0 {
		sub.ReceiveSettings.NumGoroutines = c.cfg.ReceiveGoroutines
	}
	return sub
}

func (c *Client) AnalyticsSubscription() *pubsub.Subscriber {
	return c.Subscription(c.cfg.AnalyticsSubscription)
}

func (c *Client) NotifySubscription() *pubsub.Subscriber {
	return c.Subscription(c.cfg.NotifySubscription)
}

// Publisher returns a publisher handle for a topic ID or full resource name.
func (c *Client) Publisher(name string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	fullName := c.resourceName(kindTopic, name)
	if fullName == "" {
		return nil
	}
	return c.client.Publisher(fullName)
}

// PushPublisher returns the publisher for the mobile push mirror.
func (c *Client) PushPublisher() *pubsub.Publisher {
	return c.Publisher(c.cfg.PushTopic)
}

// Ping re-checks the resources this binary declared at startup.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("pubsub client not initialized")
	}
	return c.verify(ctx)
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// resourceName expands a short ID into projects/<p>/<kind>/<id>. Full
// resource names of the same kind pass through unchanged.
func (c *Client) resourceName(kind, name string) string {
	if c == nil {
		return ""
	}
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/"+kind+"/") {
		return n
	}
	if c.projectID == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/%s/%s", c.projectID, kind, n)
}

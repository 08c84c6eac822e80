package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"

	"github.com/markdave123-py/ToolSuite/internal/core"
	db "github.com/markdave123-py/ToolSuite/internal/core/database"
	"github.com/markdave123-py/ToolSuite/internal/models"
)

// Tool slugs gated by entitlements.
const (
	ToolReceipts = "receipts"
	ToolPayStubs = "paystubs"
)

// freeTier is how many records a user without a subscription may create.
var freeTier = map[string]int{
	ToolReceipts: 0,
	ToolPayStubs: 1,
}

// Subscription statuses mirrored onto profiles.
const (
	SubscriptionInactive = "inactive"
	SubscriptionActive   = "active"
	SubscriptionPastDue  = "past_due"
	SubscriptionCanceled = "canceled"
)

// StripeGateway is the slice of the Stripe API the billing flow calls.
type StripeGateway interface {
	CreateCustomer(ctx context.Context, email, userID string) (string, error)
	CreateCheckoutSession(ctx context.Context, in CheckoutInput) (string, error)
	GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
}

// CheckoutInput describes one subscription checkout.
type CheckoutInput struct {
	CustomerID string
	PriceID    string
	UserID     string
	SuccessURL string
	CancelURL  string
}

type stripeGateway struct {
	api *client.API
}

func NewStripeGateway(secretKey string) StripeGateway {
	sc := &client.API{}
	sc.Init(secretKey, nil)
	return &stripeGateway{api: sc}
}

func (g *stripeGateway) CreateCustomer(ctx context.Context, email, userID string) (string, error) {
	params := &stripe.CustomerParams{Email: stripe.String(email)}
	params.Context = ctx
	params.AddMetadata("user_id", userID)
	c, err := g.api.Customers.New(params)
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

func (g *stripeGateway) CreateCheckoutSession(ctx context.Context, in CheckoutInput) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Customer:          stripe.String(in.CustomerID),
		ClientReferenceID: stripe.String(in.UserID),
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(in.PriceID), Quantity: stripe.Int64(1)},
		},
		SuccessURL: stripe.String(in.SuccessURL),
		CancelURL:  stripe.String(in.CancelURL),
	}
	params.Context = ctx
	params.AddMetadata("user_id", in.UserID)
	sess, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return "", err
	}
	return sess.URL, nil
}

func (g *stripeGateway) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	return g.api.Subscriptions.Get(id, params)
}

// Access is the answer to "may this user use this tool right now".
type Access struct {
	Allowed       bool   `json:"can_access"`
	Free          bool   `json:"is_free"`
	RemainingFree int    `json:"remaining_free"`
	Reason        string `json:"reason,omitempty"`
}

type BillingService struct {
	db            db.DbClient
	stripe        StripeGateway // nil when billing is not configured
	webhookSecret string
	bundlePriceID string
	appURL        string
	logger        *zap.Logger
}

func NewBillingService(dbc db.DbClient, gw StripeGateway, webhookSecret, bundlePriceID, appURL string, logger *zap.Logger) *BillingService {
	return &BillingService{
		db:            dbc,
		stripe:        gw,
		webhookSecret: webhookSecret,
		bundlePriceID: bundlePriceID,
		appURL:        appURL,
		logger:        logger,
	}
}

func (s *BillingService) profile(ctx context.Context, userID string) (*models.Profile, error) {
	p, err := s.db.GetProfile(ctx, userID)
	if errors.Is(err, core.ErrNotFound) {
		return &models.Profile{ID: userID, SubscriptionStatus: SubscriptionInactive}, nil
	}
	return p, err
}

// CanAccessTool checks the bundle plan, then a single-tool grant, then the
// free tier.
func (s *BillingService) CanAccessTool(ctx context.Context, userID, tool string) (*Access, error) {
	p, err := s.profile(ctx, userID)
	if err != nil {
		return nil, err
	}

	if p.SubscriptionStatus == SubscriptionActive {
		if s.bundlePriceID != "" && p.PriceID != nil && *p.PriceID == s.bundlePriceID {
			return &Access{Allowed: true}, nil
		}
		granted, err := s.db.HasToolAccess(ctx, userID, tool)
		if err != nil {
			return nil, err
		}
		if granted {
			return &Access{Allowed: true}, nil
		}
	}

	limit := freeTier[tool]
	if limit <= 0 {
		return &Access{Reason: "No active subscription or tool access"}, nil
	}

	var used int
	switch tool {
	case ToolPayStubs:
		used, err = s.db.CountPayStubs(ctx, userID)
	case ToolReceipts:
		used, err = s.db.CountDocuments(ctx, userID)
	}
	if err != nil {
		return nil, err
	}
	if remaining := limit - used; remaining > 0 {
		return &Access{Allowed: true, Free: true, RemainingFree: remaining}, nil
	}
	return &Access{Free: true, Reason: "Free tier limit reached. Please subscribe to continue."}, nil
}

// HasActiveSubscription decides whether generated PDFs carry a watermark.
func (s *BillingService) HasActiveSubscription(ctx context.Context, userID string) (bool, error) {
	p, err := s.profile(ctx, userID)
	if err != nil {
		return false, err
	}
	return p.SubscriptionStatus == SubscriptionActive, nil
}

func (s *BillingService) Subscription(ctx context.Context, userID string) (*models.Profile, error) {
	return s.profile(ctx, userID)
}

// Checkout returns the URL of a hosted checkout page, creating the Stripe
// customer on first use. An empty priceID means the bundle plan.
func (s *BillingService) Checkout(ctx context.Context, userID, priceID string) (string, error) {
	if s.stripe == nil {
		return "", core.InvalidState("billing is not configured")
	}
	if priceID == "" {
		priceID = s.bundlePriceID
	}
	if priceID == "" {
		return "", core.InvalidState("price_id is required")
	}

	user, err := s.db.GetUserByID(ctx, userID)
	if err != nil {
		return "", err
	}
	p, err := s.profile(ctx, userID)
	if err != nil {
		return "", err
	}

	if p.StripeCustomerID == nil {
		id, err := s.stripe.CreateCustomer(ctx, user.Email, userID)
		if err != nil {
			return "", core.Upstream("create stripe customer", err)
		}
		p.StripeCustomerID = &id
		p.Email = user.Email
		if err := s.db.UpsertProfile(ctx, p); err != nil {
			return "", err
		}
	}

	url, err := s.stripe.CreateCheckoutSession(ctx, CheckoutInput{
		CustomerID: *p.StripeCustomerID,
		PriceID:    priceID,
		UserID:     userID,
		SuccessURL: s.appURL + "/billing?success=true",
		CancelURL:  s.appURL + "/billing?canceled=true",
	})
	if err != nil {
		return "", core.Upstream("create checkout session", err)
	}
	return url, nil
}

// HandleWebhook verifies and applies one Stripe event. Events for unknown
// customers and event types nobody listens to are acknowledged and dropped.
func (s *BillingService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return core.InvalidState("invalid webhook signature")
	}
	log := s.logger.With(zap.String("event_id", event.ID), zap.String("event_type", string(event.Type)))

	switch event.Type {
	case "checkout.session.completed":
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			return core.InvalidState("malformed checkout session")
		}
		return s.checkoutCompleted(ctx, &cs, log)

	case "invoice.payment_succeeded", "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return core.InvalidState("malformed invoice")
		}
		status := SubscriptionActive
		if event.Type == "invoice.payment_failed" {
			status = SubscriptionPastDue
		}
		return s.updateByCustomer(ctx, customerID(inv.Customer), log, func(p *models.Profile) {
			p.SubscriptionStatus = status
		})

	case "customer.subscription.updated":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return core.InvalidState("malformed subscription")
		}
		return s.updateByCustomer(ctx, customerID(sub.Customer), log, func(p *models.Profile) {
			p.SubscriptionStatus = string(sub.Status)
			p.StripeSubscriptionID = &sub.ID
			applySubscription(p, &sub)
		})

	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return core.InvalidState("malformed subscription")
		}
		return s.updateByCustomer(ctx, customerID(sub.Customer), log, func(p *models.Profile) {
			p.SubscriptionStatus = SubscriptionCanceled
			p.StripeSubscriptionID = nil
		})
	}

	log.Debug("ignoring webhook event")
	return nil
}

func (s *BillingService) checkoutCompleted(ctx context.Context, cs *stripe.CheckoutSession, log *zap.Logger) error {
	if cs.Mode != stripe.CheckoutSessionModeSubscription {
		return nil
	}
	custID := customerID(cs.Customer)

	p, err := s.db.GetProfileByCustomer(ctx, custID)
	if errors.Is(err, core.ErrNotFound) && cs.ClientReferenceID != "" {
		p, err = s.profile(ctx, cs.ClientReferenceID)
	}
	if errors.Is(err, core.ErrNotFound) {
		log.Warn("checkout for unknown customer", zap.String("customer_id", custID))
		return nil
	}
	if err != nil {
		return err
	}

	p.StripeCustomerID = &custID
	p.SubscriptionStatus = SubscriptionActive
	if cs.Subscription != nil && cs.Subscription.ID != "" {
		subID := cs.Subscription.ID
		p.StripeSubscriptionID = &subID
		if s.stripe != nil {
			sub, err := s.stripe.GetSubscription(ctx, subID)
			if err != nil {
				return core.Upstream("retrieve subscription", err)
			}
			applySubscription(p, sub)
		}
	}
	if err := s.db.UpsertProfile(ctx, p); err != nil {
		return err
	}
	log.Info("subscription activated", zap.String("user_id", p.ID))
	return nil
}

func (s *BillingService) updateByCustomer(ctx context.Context, custID string, log *zap.Logger, apply func(*models.Profile)) error {
	if custID == "" {
		return nil
	}
	p, err := s.db.GetProfileByCustomer(ctx, custID)
	if errors.Is(err, core.ErrNotFound) {
		log.Warn("webhook for unknown customer", zap.String("customer_id", custID))
		return nil
	}
	if err != nil {
		return err
	}
	apply(p)
	if err := s.db.UpsertProfile(ctx, p); err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	log.Info("subscription updated", zap.String("user_id", p.ID), zap.String("status", p.SubscriptionStatus))
	return nil
}

func applySubscription(p *models.Profile, sub *stripe.Subscription) {
	if sub.CurrentPeriodEnd > 0 {
		end := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		p.CurrentPeriodEnd = &end
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		price := sub.Items.Data[0].Price.ID
		p.PriceID = &price
	}
}

func customerID(c *stripe.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}

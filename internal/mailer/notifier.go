package mailer

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"

	"github.com/rs/zerolog/log"

	"storefront/internal/models"
)

// Notifier renders the transactional templates and hands them to a Mailer.
type Notifier struct {
	mailer      Mailer
	frontendURL string
	shopName    string
	timeout     time.Duration
}

func NewNotifier(m Mailer, frontendURL string) *Notifier {
	return &Notifier{mailer: m, frontendURL: frontendURL, shopName: "Storefront", timeout: 15 * time.Second}
}

type welcomeData struct {
	Shop    string
	Name    string
	ShopURL string
}

type resetData struct {
	Shop     string
	Name     string
	ResetURL string
	Minutes  int
}

type orderData struct {
	Shop   string
	Name   string
	Order  models.Order
	Status string
	Note   string
	URL    string
}

func (n *Notifier) Welcome(ctx context.Context, user models.User) error {
	return n.send(ctx, user.Email, "Welcome to "+n.shopName, welcomeTmpl, welcomeData{
		Shop: n.shopName, Name: user.Name, ShopURL: n.frontendURL,
	})
}

func (n *Notifier) PasswordReset(ctx context.Context, user models.User, token string, ttl time.Duration) error {
	return n.send(ctx, user.Email, "Reset your password", resetTmpl, resetData{
		Shop:     n.shopName,
		Name:     user.Name,
		ResetURL: fmt.Sprintf("%s/reset-password?token=%s", n.frontendURL, token),
		Minutes:  int(ttl.Minutes()),
	})
}

func (n *Notifier) OrderConfirmation(ctx context.Context, order models.Order, name string) error {
	return n.send(ctx, order.Email, "Order "+order.OrderNumber+" confirmed", orderTmpl, orderData{
		Shop: n.shopName, Name: name, Order: order, Status: order.Status,
		URL: fmt.Sprintf("%s/orders/%s", n.frontendURL, order.ID.Hex()),
	})
}

func (n *Notifier) OrderStatus(ctx context.Context, order models.Order, note string) error {
	return n.send(ctx, order.Email, "Order "+order.OrderNumber+" is "+order.Status, statusTmpl, orderData{
		Shop: n.shopName, Order: order, Status: order.Status, Note: note,
		URL: fmt.Sprintf("%s/orders/%s", n.frontendURL, order.ID.Hex()),
	})
}

// Go sends in the background; failures are only logged.
func (n *Notifier) Go(kind string, send func(ctx context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()
		if err := send(ctx); err != nil {
			log.Warn().Str("component", "mailer").Str("kind", kind).Err(err).Msg("notification failed")
		}
	}()
}

func (n *Notifier) send(ctx context.Context, to, subject string, tmpl *template.Template, data any) error {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("render %s: %w", tmpl.Name(), err)
	}
	return n.mailer.Send(ctx, Message{To: to, Subject: subject, HTML: buf.String()})
}

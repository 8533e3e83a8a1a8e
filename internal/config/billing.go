package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// BillingPolicy carries the operator-tunable billing constants. The minimum
// invoice amount and the match window were hardcoded historically; they are
// configuration now so other markets can adjust them without a release.
type BillingPolicy struct {
	// AutomatedBillingEnabled gates the whole monthly batch run.
	AutomatedBillingEnabled bool `mapstructure:"automatedBillingEnabled"`

	// MinimumInvoiceAmountCents suppresses service invoices below this total.
	MinimumInvoiceAmountCents int64 `mapstructure:"minimumInvoiceAmountCents"`

	// MatchWindowDays bounds the amount+date "probable" reconciliation tier.
	MatchWindowDays int `mapstructure:"matchWindowDays"`

	// BillingWorkers bounds the batch run worker pool.
	BillingWorkers int `mapstructure:"billingWorkers"`

	Currency string `mapstructure:"currency"`
}

func DefaultBillingPolicy() BillingPolicy {
	return BillingPolicy{
		AutomatedBillingEnabled:   true,
		MinimumInvoiceAmountCents: 1000,
		MatchWindowDays:           30,
		BillingWorkers:            4,
		Currency:                  "KES",
	}
}

type BillingPolicyHolder struct {
	current atomic.Value // holds BillingPolicy
}

func NewBillingPolicyHolder() (*BillingPolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/nyumbani/config") // Volume-mounted config
	v.AddConfigPath("/etc/nyumbani")            // System config
	v.AddConfigPath(".")                        // Current directory (dev mode)

	v.SetEnvPrefix("NYUMBANI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBillingPolicy()
	v.SetDefault("billing.automatedBillingEnabled", defaults.AutomatedBillingEnabled)
	v.SetDefault("billing.minimumInvoiceAmountCents", defaults.MinimumInvoiceAmountCents)
	v.SetDefault("billing.matchWindowDays", defaults.MatchWindowDays)
	v.SetDefault("billing.billingWorkers", defaults.BillingWorkers)
	v.SetDefault("billing.currency", defaults.Currency)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var policy BillingPolicy
	if err := v.UnmarshalKey("billing", &policy); err != nil {
		return nil, err
	}
	if err := validateBillingPolicy(policy); err != nil {
		return nil, err
	}

	holder := &BillingPolicyHolder{}
	holder.current.Store(policy)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated BillingPolicy
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Printf("[billing-policy] reload failed: %v", err)
			return
		}
		if err := validateBillingPolicy(updated); err != nil {
			log.Printf("[billing-policy] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[billing-policy] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *BillingPolicyHolder) Get() BillingPolicy {
	return h.current.Load().(BillingPolicy)
}

// NewStaticBillingPolicyHolder wraps a fixed policy, used by tests.
func NewStaticBillingPolicyHolder(policy BillingPolicy) *BillingPolicyHolder {
	holder := &BillingPolicyHolder{}
	holder.current.Store(policy)
	return holder
}

func validateBillingPolicy(policy BillingPolicy) error {
	if policy.MinimumInvoiceAmountCents < 0 {
		return errors.New("billing.minimumInvoiceAmountCents cannot be negative")
	}
	if policy.MatchWindowDays <= 0 {
		return errors.New("billing.matchWindowDays must be positive")
	}
	if policy.BillingWorkers <= 0 {
		return errors.New("billing.billingWorkers must be positive")
	}
	if strings.TrimSpace(policy.Currency) == "" {
		return errors.New("billing.currency cannot be empty")
	}
	return nil
}

package verification

import (
	"fmt"
	"time"
)

type PaymentConfig struct {
	MinimumFee      int           `mapstructure:"minimum_fee"`
	Currency        string        `mapstructure:"currency"`
	CheckoutTimeout time.Duration `mapstructure:"checkout_timeout"`
}

func DefaultPaymentConfig() *PaymentConfig {
	return &PaymentConfig{
		MinimumFee:      100,
		Currency:        "INR",
		CheckoutTimeout: 5 * time.Minute,
	}
}

func (c *PaymentConfig) Validate() error {
	if c.MinimumFee <= 0 {
		return fmt.Errorf("minimum_fee must be positive")
	}
	if c.CheckoutTimeout <= 0 {
		return fmt.Errorf("checkout_timeout must be positive")
	}
	return nil
}

type CodeConfig struct {
	CodeLength int `mapstructure:"code_length"`
}

func DefaultCodeConfig() *CodeConfig {
	return &CodeConfig{CodeLength: 6}
}

func (c *CodeConfig) Validate() error {
	if c.CodeLength <= 0 {
		return fmt.Errorf("code_length must be positive")
	}
	return nil
}

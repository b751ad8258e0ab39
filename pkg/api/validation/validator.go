// Rover Link
// Copyright (c) 2026 The Rover Link Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Rover Link.
//
// Rover Link is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Rover Link is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Rover Link.  If not, see <http://www.gnu.org/licenses/>.

// Package validation checks client messages and configuration values using
// go-playground/validator, with a few custom tags for rover link types.
package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/netip"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	ErrEmptyPayload = errors.New("empty payload")
	ErrInvalidJSON  = errors.New("invalid json")
)

type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a Validator with the custom tags registered:
//
//	mimetype  a media type such as image/jpeg
//	ipentry   an IP, an IP with port, or a CIDR range
//	prefix    a non-blank line marker without separators or whitespace
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	_ = v.RegisterValidation("mimetype", validateMIMEType)
	_ = v.RegisterValidation("ipentry", validateIPEntry)
	_ = v.RegisterValidation("prefix", validatePrefix)

	return &Validator{validate: v}
}

// DefaultValidator is shared by the API and config packages.
var DefaultValidator = NewValidator()

// Validate checks a struct and returns an *Error listing every failed field.
func (v *Validator) Validate(s any) error {
	if err := v.validate.Struct(s); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return NewError(validationErrors)
		}
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// ValidateAndUnmarshal decodes data into dest and validates the result.
func ValidateAndUnmarshal[T any](data []byte, dest *T) error {
	if len(data) == 0 {
		return ErrEmptyPayload
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return ErrInvalidJSON
	}
	return DefaultValidator.Validate(dest)
}

func validateMIMEType(fl validator.FieldLevel) bool {
	val := fl.Field().String()
	if val == "" {
		return true
	}
	mt, params, err := mime.ParseMediaType(val)
	return err == nil && len(params) == 0 && strings.Count(mt, "/") == 1
}

func validateIPEntry(fl validator.FieldLevel) bool {
	val := fl.Field().String()
	if val == "" {
		return false
	}
	if host, _, err := net.SplitHostPort(val); err == nil {
		val = host
	}
	if _, err := netip.ParsePrefix(val); err == nil {
		return true
	}
	_, err := netip.ParseAddr(val)
	return err == nil
}

func validatePrefix(fl validator.FieldLevel) bool {
	val := fl.Field().String()
	if strings.TrimSpace(val) == "" {
		return false
	}
	return !strings.ContainsAny(val, ", \t\r\n")
}

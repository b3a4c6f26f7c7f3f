package policy

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// EnvPrefix namespaces every policy variable in the process environment.
const EnvPrefix = "SOFT_DELETE_"

// Policy governs cascade behaviour, retention, audit requirements and batch sizing.
// Values are immutable once built; use Holder to swap a new value in at runtime.
type Policy struct {
	AutoFilter        bool `env:"AUTO_FILTER" envDefault:"true" json:"autoFilter"`
	CascadeSoftDelete bool `env:"CASCADE_SOFT_DELETE" envDefault:"false" json:"cascadeSoftDelete"`
	MaxCascadeDepth   int  `env:"MAX_CASCADE_DEPTH" envDefault:"5" json:"maxCascadeDepth" validate:"min=1,max=10"`

	HardDeleteAfterDays  int   `env:"HARD_DELETE_AFTER_DAYS" envDefault:"90" json:"hardDeleteAfterDays" validate:"min=1"`
	EnableAutoCleanup    bool  `env:"ENABLE_AUTO_CLEANUP" envDefault:"false" json:"enableAutoCleanup"`
	CleanupBatchSize     int   `env:"CLEANUP_BATCH_SIZE" envDefault:"1000" json:"cleanupBatchSize" validate:"min=100,max=10000"`
	CleanupScheduleHours []int `env:"CLEANUP_SCHEDULE_HOURS" envDefault:"2" envSeparator:"," json:"cleanupScheduleHours"`

	BulkOperationBatchSize int `env:"BULK_OPERATION_BATCH_SIZE" envDefault:"1000" json:"bulkOperationBatchSize" validate:"min=100,max=10000"`
	QueryTimeoutSeconds    int `env:"QUERY_TIMEOUT_SECONDS" envDefault:"30" json:"queryTimeoutSeconds" validate:"min=1,max=300"`

	EnableAuditLog          bool `env:"ENABLE_AUDIT_LOG" envDefault:"true" json:"enableAuditLog"`
	RequireDeletionReason   bool `env:"REQUIRE_DELETION_REASON" envDefault:"false" json:"requireDeletionReason"`
	RequireDeletedBy        bool `env:"REQUIRE_DELETED_BY" envDefault:"true" json:"requireDeletedBy"`
	AuditLogRetentionDays   int  `env:"AUDIT_LOG_RETENTION_DAYS" envDefault:"2555" json:"auditLogRetentionDays" validate:"min=365"`
	EnableGDPRCompliance    bool `env:"ENABLE_GDPR_COMPLIANCE" envDefault:"false" json:"enableGdprCompliance"`
	GDPRHardDeleteAfterDays int  `env:"GDPR_HARD_DELETE_AFTER_DAYS" envDefault:"30" json:"gdprHardDeleteAfterDays" validate:"min=1"`

	EnableMonitoring            bool    `env:"ENABLE_MONITORING" envDefault:"true" json:"enableMonitoring"`
	AlertOnHighDeletionRatio    bool    `env:"ALERT_ON_HIGH_DELETION_RATIO" envDefault:"true" json:"alertOnHighDeletionRatio"`
	DeletionRatioAlertThreshold float64 `env:"DELETION_RATIO_ALERT_THRESHOLD" envDefault:"0.25" json:"deletionRatioAlertThreshold" validate:"min=0.1,max=0.9"`
	AlertOnBulkOperations       bool    `env:"ALERT_ON_BULK_OPERATIONS" envDefault:"true" json:"alertOnBulkOperations"`
	BulkOperationAlertThreshold int     `env:"BULK_OPERATION_ALERT_THRESHOLD" envDefault:"10000" json:"bulkOperationAlertThreshold" validate:"min=1000"`
	StaleAfterDays              int     `env:"STALE_AFTER_DAYS" envDefault:"90" json:"staleAfterDays" validate:"min=1"`
	SlowQueryThresholdMillis    int     `env:"SLOW_QUERY_THRESHOLD_MS" envDefault:"100" json:"slowQueryThresholdMs" validate:"min=1"`

	Timezone         string `env:"TIMEZONE" envDefault:"UTC" json:"timezone" validate:"required"`
	MaxRetryAttempts int    `env:"MAX_RETRY_ATTEMPTS" envDefault:"3" json:"maxRetryAttempts" validate:"min=0,max=10"`
	DebugMode        bool   `env:"DEBUG_MODE" envDefault:"false" json:"debugMode"`
	SkipValidation   bool   `env:"SKIP_VALIDATION" envDefault:"false" json:"skipValidation"`

	location *time.Location
}

// FieldErrors maps option names to validation issues.
type FieldErrors map[string][]string

// ValidationError reports invalid policy values or operations rejected by policy.
type ValidationError struct {
	Fields FieldErrors
}

func (v *ValidationError) Error() string {
	if len(v.Fields) == 0 {
		return "policy validation error"
	}

	keys := make([]string, 0, len(v.Fields))
	for k := range v.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, strings.Join(v.Fields[k], "; ")))
	}
	return "policy validation error: " + strings.Join(parts, ", ")
}

func (f FieldErrors) add(field, message string) {
	f[field] = append(f[field], message)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("env"), ",", 2)[0]
		if name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// Default returns the policy with every option at its default value.
func Default() Policy {
	p, err := FromEnvironment(map[string]string{})
	if err != nil {
		panic(fmt.Sprintf("default soft delete policy is invalid: %v", err))
	}
	return p
}

// Load reads the policy from the process environment.
func Load() (Policy, error) {
	var p Policy
	if err := env.ParseWithOptions(&p, env.Options{Prefix: EnvPrefix}); err != nil {
		return Policy{}, &ValidationError{Fields: FieldErrors{"environment": {err.Error()}}}
	}
	return New(p)
}

// FromEnvironment reads the policy from the given variables instead of the process environment.
func FromEnvironment(vars map[string]string) (Policy, error) {
	var p Policy
	if err := env.ParseWithOptions(&p, env.Options{Prefix: EnvPrefix, Environment: vars}); err != nil {
		return Policy{}, &ValidationError{Fields: FieldErrors{"environment": {err.Error()}}}
	}
	return New(p)
}

// New validates a hand-built policy and returns it ready for use.
func New(p Policy) (Policy, error) {
	fields := FieldErrors{}

	if err := validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return Policy{}, err
		}
		for _, fe := range verrs {
			fields.add(fe.Field(), describe(fe))
		}
	}

	for _, h := range p.CleanupScheduleHours {
		if h < 0 || h > 23 {
			fields.add("CLEANUP_SCHEDULE_HOURS", "cleanup hours must be between 0 and 23")
			break
		}
	}

	loc, err := time.LoadLocation(strings.TrimSpace(p.Timezone))
	if err != nil || strings.TrimSpace(p.Timezone) == "" {
		fields.add("TIMEZONE", fmt.Sprintf("invalid timezone: %s", p.Timezone))
	}

	if len(fields) > 0 {
		return Policy{}, &ValidationError{Fields: fields}
	}

	p.CleanupScheduleHours = append([]int(nil), p.CleanupScheduleHours...)
	p.location = loc
	return p, nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "required":
		return "is required"
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

// ValidateOperation rejects a soft-delete style operation that is missing an
// audit field the policy requires. It is a no-op when SkipValidation is set.
func (p Policy) ValidateOperation(kind string, actor, reason *string) error {
	if p.SkipValidation {
		return nil
	}

	fields := FieldErrors{}
	if p.RequireDeletedBy && blank(actor) {
		fields.add("deletedBy", fmt.Sprintf("%s requires 'deleted_by' to be specified", kind))
	}
	if p.RequireDeletionReason && blank(reason) {
		fields.add("reason", fmt.Sprintf("%s requires 'reason' to be specified", kind))
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func blank(v *string) bool {
	return v == nil || strings.TrimSpace(*v) == ""
}

// Location returns the configured time zone.
func (p Policy) Location() *time.Location {
	if p.location == nil {
		return time.UTC
	}
	return p.location
}

// HardDeleteAfter is the retention window before soft-deleted rows may be purged.
func (p Policy) HardDeleteAfter() time.Duration {
	return days(p.HardDeleteAfterDays)
}

// GDPRHardDeleteAfter is the retention window applied when GDPR compliance is on.
func (p Policy) GDPRHardDeleteAfter() time.Duration {
	return days(p.GDPRHardDeleteAfterDays)
}

// AuditRetention is how long audit information is kept.
func (p Policy) AuditRetention() time.Duration {
	return days(p.AuditLogRetentionDays)
}

// QueryTimeout bounds maintenance queries.
func (p Policy) QueryTimeout() time.Duration {
	return time.Duration(p.QueryTimeoutSeconds) * time.Second
}

// StaleAfter is the age after which a deleted row counts as stale.
func (p Policy) StaleAfter() time.Duration {
	return days(p.StaleAfterDays)
}

// SlowQueryThreshold splits healthy from slow connectivity checks.
func (p Policy) SlowQueryThreshold() time.Duration {
	return time.Duration(p.SlowQueryThresholdMillis) * time.Millisecond
}

// EffectiveRetentionDays is the retention used by automatic cleanup.
func (p Policy) EffectiveRetentionDays() int {
	if p.EnableGDPRCompliance && p.GDPRHardDeleteAfterDays < p.HardDeleteAfterDays {
		return p.GDPRHardDeleteAfterDays
	}
	return p.HardDeleteAfterDays
}

// CleanupSettings groups the options used by the retention scheduler.
type CleanupSettings struct {
	Enabled       bool  `json:"enabled"`
	RetentionDays int   `json:"retentionDays"`
	BatchSize     int   `json:"batchSize"`
	ScheduleHours []int `json:"scheduleHours"`
}

// CleanupSettings returns the automatic cleanup options.
func (p Policy) CleanupSettings() CleanupSettings {
	return CleanupSettings{
		Enabled:       p.EnableAutoCleanup,
		RetentionDays: p.EffectiveRetentionDays(),
		BatchSize:     p.CleanupBatchSize,
		ScheduleHours: append([]int(nil), p.CleanupScheduleHours...),
	}
}

// MonitoringSettings groups the health and alert options.
type MonitoringSettings struct {
	Enabled                     bool    `json:"enabled"`
	AlertOnHighDeletionRatio    bool    `json:"alertOnHighDeletionRatio"`
	DeletionRatioAlertThreshold float64 `json:"deletionRatioAlertThreshold"`
	AlertOnBulkOperations       bool    `json:"alertOnBulkOperations"`
	BulkOperationAlertThreshold int     `json:"bulkOperationAlertThreshold"`
}

// MonitoringSettings returns the monitoring options.
func (p Policy) MonitoringSettings() MonitoringSettings {
	return MonitoringSettings{
		Enabled:                     p.EnableMonitoring,
		AlertOnHighDeletionRatio:    p.AlertOnHighDeletionRatio,
		DeletionRatioAlertThreshold: p.DeletionRatioAlertThreshold,
		AlertOnBulkOperations:       p.AlertOnBulkOperations,
		BulkOperationAlertThreshold: p.BulkOperationAlertThreshold,
	}
}

// ShouldAlertBulk reports whether a bulk operation of the given size must be flagged.
func (p Policy) ShouldAlertBulk(affected int64) bool {
	return p.EnableMonitoring && p.AlertOnBulkOperations && affected >= int64(p.BulkOperationAlertThreshold)
}

// ShouldAlertRatio reports whether a deletion ratio (percent) crosses the alert threshold.
func (p Policy) ShouldAlertRatio(ratioPercent float64) bool {
	return p.EnableMonitoring && p.AlertOnHighDeletionRatio && ratioPercent/100 > p.DeletionRatioAlertThreshold
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

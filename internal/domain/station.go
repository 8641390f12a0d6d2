package domain

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// StationRecord is a weather station as described by a file header.
type StationRecord struct {
	Code        string    `json:"code" validate:"required,stationcode"`
	Name        string    `json:"name" validate:"required"`
	Region      string    `json:"region" validate:"required,min=1,max=2,alpha"`
	State       string    `json:"state" validate:"required,len=2,alpha"`
	Latitude    float64   `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude   float64   `json:"longitude" validate:"gte=-180,lte=180"`
	Elevation   float64   `json:"elevation"`
	InstalledOn time.Time `json:"installed_on" validate:"required"`
}

// Equal reports whether two records describe the same station attributes.
func (s StationRecord) Equal(o StationRecord) bool {
	return s.Code == o.Code &&
		s.Name == o.Name &&
		s.Region == o.Region &&
		s.State == o.State &&
		s.Latitude == o.Latitude &&
		s.Longitude == o.Longitude &&
		s.Elevation == o.Elevation &&
		s.InstalledOn.Equal(o.InstalledOn)
}

var stationCodePattern = regexp.MustCompile(`^[A-Z][0-9]{3}$`)

var (
	stationValidatorOnce sync.Once
	stationValidator     *validator.Validate
)

func stationValidate() *validator.Validate {
	stationValidatorOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		_ = v.RegisterValidation("stationcode", func(fl validator.FieldLevel) bool {
			return stationCodePattern.MatchString(fl.Field().String())
		})
		stationValidator = v
	})
	return stationValidator
}

// ValidateStation checks a station record's attribute rules and returns an
// error naming every offending field.
func ValidateStation(s StationRecord) error {
	err := stationValidate().Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s(%s)", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return fmt.Errorf("invalid station %q: %s", s.Code, strings.Join(fields, ", "))
}

// StationLookup resolves station codes to known stations.
type StationLookup interface {
	Station(code string) (StationRecord, bool)
}

// StationRegistry is the set of stations known during one year's run: those
// already in the store plus those parsed from this year's file headers.
// Not safe for concurrent use.
type StationRegistry struct {
	byCode  map[string]StationRecord
	changed map[string]struct{}
}

// NewStationRegistry seeds a registry with previously stored stations.
func NewStationRegistry(known []StationRecord) *StationRegistry {
	r := &StationRegistry{
		byCode:  make(map[string]StationRecord, len(known)),
		changed: make(map[string]struct{}),
	}
	for _, s := range known {
		r.byCode[s.Code] = s
	}
	return r
}

// Station implements StationLookup.
func (r *StationRegistry) Station(code string) (StationRecord, bool) {
	s, ok := r.byCode[code]
	return s, ok
}

// Upsert records a station, replacing the attributes of a known code.
// It reports whether anything changed.
func (r *StationRegistry) Upsert(s StationRecord) bool {
	if prev, ok := r.byCode[s.Code]; ok && prev.Equal(s) {
		return false
	}
	r.byCode[s.Code] = s
	r.changed[s.Code] = struct{}{}
	return true
}

// Changed returns the stations inserted or updated since the registry was
// created, sorted by code.
func (r *StationRegistry) Changed() []StationRecord {
	out := make([]StationRecord, 0, len(r.changed))
	for code := range r.changed {
		out = append(out, r.byCode[code])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

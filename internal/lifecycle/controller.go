package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sensorfleet/deploy-console/internal/cache"
	"github.com/sensorfleet/deploy-console/internal/health"
	"github.com/sensorfleet/deploy-console/internal/models"
	"github.com/sensorfleet/deploy-console/internal/registry"
	"github.com/sensorfleet/deploy-console/internal/storage"
	"github.com/sensorfleet/deploy-console/internal/validation"
)

// Common errors
var (
	ErrOperationInFlight = errors.New("another operation is in progress for this device")
	ErrValidation        = errors.New("deployment details are invalid")
	ErrAlreadyDeployed   = errors.New("device is already deployed")
	ErrNotDeployed       = errors.New("device is not deployed")
	ErrNotConfirmed      = errors.New("recall was not confirmed")
	ErrDeviceNotFound    = errors.New("device not found")
)

// MsgConnectivity is shown when the registry could not be reached
const MsgConnectivity = "Could not reach the device registry, check your connection"

const DefaultRefreshTimeout = 30 * time.Second

// Registry performs lifecycle actions against the device registry
type Registry interface {
	Deploy(ctx context.Context, deviceName string, payload registry.DeployPayload) (*registry.Message, error)
	DeployWithCoordinates(ctx context.Context, payload registry.CoordinateDeployPayload) (*registry.Message, error)
	Recall(ctx context.Context, deviceName string, payload registry.RecallPayload) (*registry.Message, error)
	RecentFeed(ctx context.Context, channel int64) (*models.TelemetrySnapshot, error)
}

// Fleet is the cached view of a network's devices
type Fleet interface {
	Device(ctx context.Context, network, name string) (*models.Device, error)
	Refresh(ctx context.Context, network string) error
	LoadedAt(ctx context.Context, network string) time.Time
}

// Publisher broadcasts successful transitions
type Publisher interface {
	PublishLifecycle(ctx context.Context, event *models.LifecycleEvent) error
}

// Prompt is the confirmation shown before a recall
type Prompt struct {
	DeviceName string `json:"deviceName"`
	Message    string `json:"message"`
}

// Confirmer asks the operator to confirm a destructive action
type Confirmer interface {
	Confirm(ctx context.Context, prompt Prompt) bool
}

// ConfirmFunc adapts a function to Confirmer
type ConfirmFunc func(ctx context.Context, prompt Prompt) bool

func (f ConfirmFunc) Confirm(ctx context.Context, prompt Prompt) bool {
	return f(ctx, prompt)
}

// Option configures a Controller
type Option func(*Controller)

// WithPublisher sets the lifecycle event publisher
func WithPublisher(p Publisher) Option {
	return func(c *Controller) { c.publisher = p }
}

// WithClock sets the time source
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithRules sets the health rule table
func WithRules(rules health.Rules) Option {
	return func(c *Controller) { c.rules = rules }
}

// WithRefreshTimeout bounds the background fleet refresh after a transition
func WithRefreshTimeout(d time.Duration) Option {
	return func(c *Controller) { c.refreshTimeout = d }
}

// Controller runs deploy, recall and health test operations for devices of
// any network. Every operation takes its network explicitly.
type Controller struct {
	registry  Registry
	fleet     Fleet
	store     storage.Store
	publisher Publisher
	validator *validation.DeploymentValidator
	rules     health.Rules
	now       func() time.Time

	refreshTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*session

	wg sync.WaitGroup
}

// NewController creates a lifecycle controller
func NewController(reg Registry, fleet Fleet, store storage.Store, opts ...Option) *Controller {
	c := &Controller{
		registry:       reg,
		fleet:          fleet,
		store:          store,
		rules:          health.DefaultRules,
		now:            time.Now,
		refreshTimeout: DefaultRefreshTimeout,
		sessions:       make(map[string]*session),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.validator = validation.NewDeploymentValidator(c.now)
	return c
}

// Validator returns the deployment validator bound to the controller clock
func (c *Controller) Validator() *validation.DeploymentValidator {
	return c.validator
}

// Wait blocks until background refreshes have finished
func (c *Controller) Wait() {
	c.wg.Wait()
}

func sessionKey(network, deviceName string) string {
	return network + "/" + deviceName
}

// sessionLocked returns the session of a device, creating it. c.mu must be held.
func (c *Controller) sessionLocked(network, deviceName string) *session {
	key := sessionKey(network, deviceName)
	s, ok := c.sessions[key]
	if !ok {
		s = &session{}
		c.sessions[key] = s
	}
	return s
}

// begin marks a device busy with op and returns the function that clears the flag
func (c *Controller) begin(network, deviceName string, op Operation) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.sessionLocked(network, deviceName)
	if s.busy() {
		return nil, ErrOperationInFlight
	}

	switch op {
	case OpDeploy:
		s.deploying = true
	case OpRecall:
		s.recalling = true
	}

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		s.deploying = false
		s.recalling = false
	}, nil
}

func (c *Controller) withSession(network, deviceName string, fn func(s *session)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.sessionLocked(network, deviceName))
}

func (c *Controller) notify(network, deviceName string, severity NotificationSeverity, msg string) {
	c.withSession(network, deviceName, func(s *session) {
		s.notification = &Notification{Severity: severity, Message: msg, At: c.now()}
	})
}

// Deploy deploys an existing device to a registered site
func (c *Controller) Deploy(ctx context.Context, network, deviceName string, sub models.Submission, op *models.Operator) (DeviceView, error) {
	release, err := c.begin(network, deviceName, OpDeploy)
	if err != nil {
		return c.viewOrEmpty(ctx, network, deviceName), err
	}

	err = func() error {
		defer release()
		return c.deploy(ctx, network, deviceName, sub, op)
	}()

	return c.viewOrEmpty(ctx, network, deviceName), err
}

func (c *Controller) deploy(ctx context.Context, network, deviceName string, sub models.Submission, op *models.Operator) error {
	device, err := c.device(ctx, network, deviceName)
	if err != nil {
		return err
	}

	if _, err := Transition(c.resolveState(ctx, network, device), OpDeploy); err != nil {
		c.notify(network, deviceName, SeverityError, fmt.Sprintf("%s is already deployed", deviceName))
		return err
	}

	errs := c.validator.Validate(sub)
	c.withSession(network, deviceName, func(s *session) { s.errors = errs })
	if !errs.Empty() {
		return ErrValidation
	}

	date := sub.DeploymentDate
	if date.IsZero() {
		date = c.now()
	}
	height, _ := strconv.ParseFloat(strings.TrimSpace(sub.Height), 64)

	payload := registry.DeployPayload{
		MountType:            sub.MountType,
		Height:               height,
		PowerType:            sub.PowerType,
		Date:                 registry.FormatDate(date),
		IsPrimaryInLocation:  sub.Role.IsPrimary(),
		IsUsedForCollocation: sub.Role.IsCollocation(),
		SiteID:               sub.Site.ID,
		Attribution:          registry.AttributionFor(op),
	}

	msg, err := c.registry.Deploy(ctx, deviceName, payload)
	if err != nil {
		c.remoteFailure(ctx, network, deviceName, op, models.ActivityTypeDeployFailed, err, true)
		return err
	}

	deployedAt := date.UTC()
	record := &models.LifecycleRecord{
		NetworkModel: models.NetworkModel{Network: network},
		DeviceName:   deviceName,
		State:        models.StateDeployed,
		SiteID:       sub.Site.ID,
		SiteName:     sub.Site.Label,
		DeployedAt:   &deployedAt,
	}
	c.succeed(ctx, record, op, models.ActivityTypeDeploy, successMessage(msg, deviceName+" has been deployed."), models.Variables{
		"siteId":    sub.Site.ID,
		"mountType": sub.MountType,
		"powerType": sub.PowerType,
		"height":    height,
		"role":      sub.Role.String(),
	})

	return nil
}

// DeployNew deploys a device to a new site placed by coordinates
func (c *Controller) DeployNew(ctx context.Context, network string, ws models.WizardSubmission, op *models.Operator) (DeviceView, error) {
	deviceName := ws.DeviceName
	release, err := c.begin(network, deviceName, OpDeploy)
	if err != nil {
		return c.viewOrEmpty(ctx, network, deviceName), err
	}

	err = func() error {
		defer release()
		return c.deployNew(ctx, network, ws, op)
	}()

	return c.viewOrEmpty(ctx, network, deviceName), err
}

func (c *Controller) deployNew(ctx context.Context, network string, ws models.WizardSubmission, op *models.Operator) error {
	deviceName := ws.DeviceName

	errs := c.validator.ValidateWizard(ws)
	c.withSession(network, deviceName, func(s *session) { s.errors = errs })
	if !errs.Empty() {
		return ErrValidation
	}

	// a device missing from the cached list may be newly registered
	device, err := c.device(ctx, network, deviceName)
	switch {
	case err == nil:
		if _, err := Transition(c.resolveState(ctx, network, device), OpDeploy); err != nil {
			c.notify(network, deviceName, SeverityError, fmt.Sprintf("%s is already deployed", deviceName))
			return err
		}
	case !errors.Is(err, ErrDeviceNotFound):
		return err
	}

	date := ws.DeploymentDate
	if date.IsZero() {
		date = c.now()
	}
	height, _ := strconv.ParseFloat(strings.TrimSpace(ws.Height), 64)
	lat, _ := strconv.ParseFloat(strings.TrimSpace(ws.Latitude), 64)
	lng, _ := strconv.ParseFloat(strings.TrimSpace(ws.Longitude), 64)

	payload := registry.CoordinateDeployPayload{
		DeviceName:          deviceName,
		DeploymentDate:      registry.FormatDate(date),
		Height:              height,
		MountType:           ws.MountType,
		PowerType:           ws.PowerType,
		IsPrimaryInLocation: ws.Role.IsPrimary(),
		Latitude:            lat,
		Longitude:           lng,
		SiteName:            ws.SiteName,
		Network:             network,
		Attribution:         registry.AttributionFor(op),
	}

	msg, err := c.registry.DeployWithCoordinates(ctx, payload)
	if err != nil {
		c.remoteFailure(ctx, network, deviceName, op, models.ActivityTypeDeployFailed, err, true)
		return err
	}

	deployedAt := date.UTC()
	record := &models.LifecycleRecord{
		NetworkModel: models.NetworkModel{Network: network},
		DeviceName:   deviceName,
		State:        models.StateDeployed,
		SiteName:     ws.SiteName,
		DeployedAt:   &deployedAt,
	}
	c.succeed(ctx, record, op, models.ActivityTypeDeploy, successMessage(msg, deviceName+" has been deployed."), models.Variables{
		"siteName":  ws.SiteName,
		"latitude":  lat,
		"longitude": lng,
		"mountType": ws.MountType,
		"powerType": ws.PowerType,
		"height":    height,
	})

	return nil
}

// Recall recalls a deployed device after the operator confirms it
func (c *Controller) Recall(ctx context.Context, network, deviceName, recallType string, confirmer Confirmer, op *models.Operator) (DeviceView, error) {
	release, err := c.begin(network, deviceName, OpRecall)
	if err != nil {
		return c.viewOrEmpty(ctx, network, deviceName), err
	}

	err = func() error {
		defer release()
		return c.recall(ctx, network, deviceName, recallType, confirmer, op)
	}()

	return c.viewOrEmpty(ctx, network, deviceName), err
}

func (c *Controller) recall(ctx context.Context, network, deviceName, recallType string, confirmer Confirmer, op *models.Operator) error {
	device, err := c.device(ctx, network, deviceName)
	if err != nil {
		return err
	}

	state := c.resolveState(ctx, network, device)
	if _, err := Transition(state, OpRecall); err != nil {
		return err
	}

	if recallType == "" {
		recallType = validation.RecallTypeErrors
	}
	if errs := validation.ValidateRecallType(recallType); !errs.Empty() {
		c.withSession(network, deviceName, func(s *session) { s.errors = errs })
		return ErrValidation
	}

	prompt := Prompt{
		DeviceName: deviceName,
		Message:    fmt.Sprintf("Are you sure you want to recall device %s?", deviceName),
	}
	if confirmer == nil || !confirmer.Confirm(ctx, prompt) {
		return ErrNotConfirmed
	}

	payload := registry.RecallPayload{
		RecallType:  recallType,
		Attribution: registry.AttributionFor(op),
	}

	msg, err := c.registry.Recall(ctx, deviceName, payload)
	if err != nil {
		c.remoteFailure(ctx, network, deviceName, op, models.ActivityTypeRecallFailed, err, false)
		return err
	}

	recalledAt := c.now().UTC()
	record := &models.LifecycleRecord{
		NetworkModel: models.NetworkModel{Network: network},
		DeviceName:   deviceName,
		State:        models.StateRecalled,
		SiteID:       device.SiteID(),
		RecalledAt:   &recalledAt,
	}
	if prev, err := c.store.GetLifecycle(ctx, network, deviceName); err == nil {
		record.SiteID, record.SiteName, record.DeployedAt = prev.SiteID, prev.SiteName, prev.DeployedAt
	}

	c.succeed(ctx, record, op, models.ActivityTypeRecall, successMessage(msg, deviceName+" has been recalled."), models.Variables{
		"recallType": recallType,
	})

	return nil
}

// RunHealthTest fetches the latest telemetry of a device and classifies it.
// It never blocks deploy or recall.
func (c *Controller) RunHealthTest(ctx context.Context, network, deviceName string) (DeviceView, error) {
	var inFlight bool
	c.withSession(network, deviceName, func(s *session) {
		inFlight = s.testing
		s.testing = true
	})
	if inFlight {
		return c.viewOrEmpty(ctx, network, deviceName), ErrOperationInFlight
	}

	err := func() error {
		defer c.withSession(network, deviceName, func(s *session) { s.testing = false })

		device, err := c.device(ctx, network, deviceName)
		if err != nil {
			return err
		}

		var report health.Report
		snapshot, err := c.registry.RecentFeed(ctx, device.DeviceNumber)
		if err != nil {
			log.Warn().Err(err).Str("network", network).Str("device", deviceName).Msg("Health test fetch failed")
			report = health.Failed()
		} else {
			report = health.Classify(snapshot, c.rules, c.now())
		}

		c.withSession(network, deviceName, func(s *session) { s.health = &report })

		level := models.ActivityLevelInfo
		if !report.Passed() {
			level = models.ActivityLevelError
		}
		c.logActivity(ctx, &models.ActivityLog{
			Network:     network,
			DeviceName:  deviceName,
			Type:        models.ActivityTypeHealthTest,
			Level:       level,
			Description: fmt.Sprintf("Health test %s", report.Status),
			Details:     models.Variables{"channels": len(report.Channels), "stale": report.Age.Stale},
		})
		return nil
	}()

	return c.viewOrEmpty(ctx, network, deviceName), err
}

// View returns the current view of a device
func (c *Controller) View(ctx context.Context, network, deviceName string) (DeviceView, error) {
	device, err := c.device(ctx, network, deviceName)
	if err != nil {
		return DeviceView{}, err
	}
	return c.view(ctx, network, device), nil
}

// Cancel discards the draft errors of a device form
func (c *Controller) Cancel(network, deviceName string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := sessionKey(network, deviceName)
	s, ok := c.sessions[key]
	if !ok {
		return
	}
	s.errors = nil
	s.notification = nil
	if s.idle() {
		delete(c.sessions, key)
	}
}

// viewOrEmpty builds a view for devices that may be absent from the fleet list
func (c *Controller) viewOrEmpty(ctx context.Context, network, deviceName string) DeviceView {
	device, err := c.device(ctx, network, deviceName)
	if err != nil {
		device = &models.Device{Name: deviceName, Network: network}
	}
	return c.view(ctx, network, device)
}

func (c *Controller) view(ctx context.Context, network string, device *models.Device) DeviceView {
	state := c.resolveState(ctx, network, device)

	c.mu.Lock()
	defer c.mu.Unlock()

	v := DeviceView{
		Network: network,
		Device:  device,
		State:   state,
		Errors:  validation.ErrorMap{},
	}
	if s, ok := c.sessions[sessionKey(network, device.Name)]; ok {
		v.Deploying = s.deploying
		v.Recalling = s.recalling
		v.Testing = s.testing
		if s.errors != nil {
			v.Errors = s.errors.Clone()
		}
		if s.notification != nil {
			n := *s.notification
			v.Notification = &n
		}
		if s.health != nil {
			h := *s.health
			v.Health = &h
		}
	}

	active := v.Active()
	v.CanDeploy = !active && !v.Deploying
	v.CanRecall = active && !v.Recalling
	return v
}

func (c *Controller) device(ctx context.Context, network, deviceName string) (*models.Device, error) {
	device, err := c.fleet.Device(ctx, network, deviceName)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceName)
		}
		return nil, fmt.Errorf("failed to load device %s: %w", deviceName, err)
	}
	return device, nil
}

// resolveState reads the state from the registry fields, unless a local
// transition was recorded after those fields were fetched.
func (c *Controller) resolveState(ctx context.Context, network string, device *models.Device) models.LifecycleState {
	record, err := c.store.GetLifecycle(ctx, network, device.Name)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Warn().Err(err).Str("network", network).Str("device", device.Name).Msg("Failed to read lifecycle record")
		}
		return device.LifecycleState()
	}

	if record.UpdatedAt.Before(c.fleet.LoadedAt(ctx, network)) {
		return device.LifecycleState()
	}
	return record.State
}

// remoteFailure reflects a failed registry call in the session. Field errors
// from the registry are merged into the form only when mergeFields is set.
func (c *Controller) remoteFailure(ctx context.Context, network, deviceName string, op *models.Operator, activity models.ActivityType, err error, mergeFields bool) {
	message := MsgConnectivity
	if remote, ok := registry.AsRemoteError(err); ok {
		message = remote.Message
		if mergeFields && len(remote.Fields) > 0 {
			c.withSession(network, deviceName, func(s *session) {
				s.errors = s.errors.Merge(remote.Fields)
			})
		}
	}

	c.notify(network, deviceName, SeverityError, message)
	c.logActivity(ctx, &models.ActivityLog{
		Network:     network,
		DeviceName:  deviceName,
		Operator:    operatorName(op),
		Type:        activity,
		Level:       models.ActivityLevelError,
		Description: message,
	})
}

// succeed persists a completed transition and notifies everyone interested
func (c *Controller) succeed(ctx context.Context, record *models.LifecycleRecord, op *models.Operator, activity models.ActivityType, message string, details models.Variables) {
	network, deviceName := record.Network, record.DeviceName

	c.withSession(network, deviceName, func(s *session) {
		s.errors = nil
		s.notification = &Notification{Severity: SeveritySuccess, Message: message, At: c.now()}
	})

	if err := c.persist(ctx, record, &models.ActivityLog{
		Network:     network,
		DeviceName:  deviceName,
		Operator:    operatorName(op),
		Type:        activity,
		Level:       models.ActivityLevelInfo,
		Description: message,
		Details:     details,
	}); err != nil {
		log.Error().Err(err).Str("network", network).Str("device", deviceName).Msg("Failed to record lifecycle transition")
	}

	log.Info().
		Str("network", network).
		Str("device", deviceName).
		Str("state", string(record.State)).
		Str("operator", operatorName(op)).
		Msg("Lifecycle transition completed")

	if c.publisher != nil {
		event := &models.LifecycleEvent{
			ID:         uuid.New(),
			Network:    network,
			DeviceName: deviceName,
			State:      record.State,
			SiteID:     record.SiteID,
			OccurredAt: c.now().UTC(),
		}
		if err := c.publisher.PublishLifecycle(ctx, event); err != nil {
			log.Warn().Err(err).Str("device", deviceName).Msg("Failed to publish lifecycle event")
		}
	}

	c.refreshAsync(network)
}

func (c *Controller) persist(ctx context.Context, record *models.LifecycleRecord, activity *models.ActivityLog) error {
	tx, err := c.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := tx.SaveLifecycle(ctx, record); err != nil {
		tx.Rollback()
		return fmt.Errorf("save lifecycle: %w", err)
	}
	if err := tx.CreateActivity(ctx, activity); err != nil {
		tx.Rollback()
		return fmt.Errorf("create activity: %w", err)
	}

	return tx.Commit()
}

func (c *Controller) logActivity(ctx context.Context, activity *models.ActivityLog) {
	if err := c.store.CreateActivity(ctx, activity); err != nil {
		log.Warn().Err(err).Str("device", activity.DeviceName).Msg("Failed to log activity")
	}
}

// refreshAsync reloads the network's fleet lists without blocking the caller
func (c *Controller) refreshAsync(network string) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), c.refreshTimeout)
		defer cancel()

		if err := c.fleet.Refresh(ctx, network); err != nil {
			log.Warn().Err(err).Str("network", network).Msg("Fleet refresh failed")
		}
	}()
}

func successMessage(msg *registry.Message, fallback string) string {
	if msg != nil && msg.Message != "" {
		return msg.Message
	}
	return fallback
}

func operatorName(op *models.Operator) string {
	if op == nil {
		return ""
	}
	return op.Email
}

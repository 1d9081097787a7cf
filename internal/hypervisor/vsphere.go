package hypervisor

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/sony/gobreaker/v2"

	"github.com/dcmlabs/dvmm-backend/pkg/config"
	"github.com/dcmlabs/dvmm-backend/pkg/enums"
	pkgerrors "github.com/dcmlabs/dvmm-backend/pkg/errors"
	"github.com/dcmlabs/dvmm-backend/pkg/logger"
	"github.com/dcmlabs/dvmm-backend/pkg/metrics"
)

const (
	sessionHeader       = "vmware-api-session-id"
	addressPollInterval = 10 * time.Second
	retryBaseBackoff    = 500 * time.Millisecond
)

// apiResponse is what a single round trip yields. Non-2xx statuses are
// carried here rather than as errors so client-side rejections do not trip
// the breaker.
type apiResponse struct {
	status int
	body   []byte
}

// VSphereClient talks to the vCenter Automation REST API. Each call rides a
// session cached for its tenant and goes through a circuit breaker that
// opens after a run of consecutive transport failures.
type VSphereClient struct {
	cfg      config.HypervisorConfig
	httpc    *http.Client
	logg     *logger.Logger
	sessions *sessionManager
	breaker  *gobreaker.CircuitBreaker[apiResponse]
}

// NewVSphereClient builds the vCenter adapter from configuration.
func NewVSphereClient(cfg config.HypervisorConfig, logg *logger.Logger, met *metrics.ProvisioningMetrics) (*VSphereClient, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("hypervisor: vsphere endpoint is required")
	}
	if strings.TrimSpace(cfg.Username) == "" || strings.TrimSpace(cfg.Password) == "" {
		return nil, fmt.Errorf("hypervisor: vsphere credentials are required")
	}
	if logg == nil {
		return nil, fmt.Errorf("hypervisor: logger is required")
	}

	transport := http.DefaultTransport
	if cfg.InsecureTLS {
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	client := &VSphereClient{
		cfg:   cfg,
		httpc: &http.Client{Transport: transport},
		logg:  logg,
	}
	client.sessions = newSessionManager(client.createSession, cfg.SessionTTL)
	client.breaker = gobreaker.NewCircuitBreaker[apiResponse](gobreaker.Settings{
		Name:    "vsphere",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.BreakerThreshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			met.IncBreakerTransition(to.String())
			logg.Warn(logg.WithFields(context.Background(), map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}), "hypervisor breaker state changed")
		},
	})
	return client, nil
}

type vmCreateSpec struct {
	Name    string       `json:"name"`
	GuestOS string       `json:"guest_OS"`
	CPU     vmCPUSpec    `json:"cpu"`
	Memory  vmMemorySpec `json:"memory"`
	Disks   []vmDiskSpec `json:"disks"`
}

type vmCPUSpec struct {
	Count int `json:"count"`
}

type vmMemorySpec struct {
	SizeMiB int `json:"size_MiB"`
}

type vmDiskSpec struct {
	NewVMDK vmVMDKSpec `json:"new_vmdk"`
}

type vmVMDKSpec struct {
	CapacityBytes int64 `json:"capacity"`
}

type vmInfo struct {
	Name       string `json:"name"`
	PowerState string `json:"power_state"`
}

type guestIdentity struct {
	IPAddress string `json:"ip_address"`
}

// CreateVM clones, configures, and powers on a machine, reporting each stage
// through onProgress. When the guest address does not surface before the
// discovery window closes the VM is returned with AddressPending set.
func (c *VSphereClient) CreateVM(ctx context.Context, input CreateVMInput, onProgress ProgressFunc) (*CreateVMResult, error) {
	if onProgress == nil {
		onProgress = func(enums.ProgressStage) {}
	}
	spec := input.Size.Spec()

	onProgress(enums.ProgressStageCloning)
	create := vmCreateSpec{
		Name:    input.Name,
		GuestOS: "OTHER_64",
		CPU:     vmCPUSpec{Count: spec.VCPUs},
		Memory:  vmMemorySpec{SizeMiB: spec.RAMGB * 1024},
		Disks: []vmDiskSpec{
			{NewVMDK: vmVMDKSpec{CapacityBytes: int64(spec.DiskGB) * 1024 * 1024 * 1024}},
		},
	}
	var vmID string
	if err := c.call(ctx, input.TenantID, http.MethodPost, "/api/vcenter/vm", create, &vmID); err != nil {
		return nil, err
	}
	ctx = c.logg.WithField(ctx, "external_ref", vmID)
	c.logg.Info(ctx, "vm created on hypervisor")

	onProgress(enums.ProgressStageConfiguring)
	var info vmInfo
	if err := c.call(ctx, input.TenantID, http.MethodGet, "/api/vcenter/vm/"+vmID, nil, &info); err != nil {
		return nil, err
	}

	onProgress(enums.ProgressStagePoweringOn)
	if err := c.call(ctx, input.TenantID, http.MethodPost, "/api/vcenter/vm/"+vmID+"/power?action=start", nil, nil); err != nil {
		return nil, err
	}

	onProgress(enums.ProgressStageWaitingForNetwork)
	address, pending, err := c.waitForAddress(ctx, input.TenantID, vmID)
	if err != nil {
		return nil, err
	}
	if pending {
		c.logg.Warn(ctx, "guest address not reported before discovery window closed")
	}

	onProgress(enums.ProgressStageReady)
	return &CreateVMResult{ExternalRef: vmID, Address: address, AddressPending: pending}, nil
}

// waitForAddress polls guest identity until an address shows up or the
// discovery window elapses. Identity lookups failing while tools boot are
// expected and polled through; running out of time is not an error.
func (c *VSphereClient) waitForAddress(ctx context.Context, tenantID uuid.UUID, vmID string) (*string, bool, error) {
	deadline := time.Now().Add(c.cfg.AddressTimeout)
	for {
		var identity guestIdentity
		err := c.call(ctx, tenantID, http.MethodGet, "/api/vcenter/vm/"+vmID+"/guest/identity", nil, &identity)
		if err == nil && strings.TrimSpace(identity.IPAddress) != "" {
			addr := identity.IPAddress
			return &addr, false, nil
		}
		if err != nil && breakerOpen(err) {
			return nil, false, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, true, nil
		}
		wait := addressPollInterval
		if wait > remaining {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, ctx.Err(), "address discovery interrupted")
		case <-timer.C:
		}
	}
}

// DeleteVM powers the machine off and removes it. A missing VM is treated as
// already deleted.
func (c *VSphereClient) DeleteVM(ctx context.Context, externalRef string) error {
	if strings.TrimSpace(externalRef) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "external ref is required")
	}
	err := c.call(ctx, serviceTenant, http.MethodPost, "/api/vcenter/vm/"+externalRef+"/power?action=stop", nil, nil)
	if err != nil && !isNotFound(err) {
		c.logg.Warn(c.logg.WithField(ctx, "external_ref", externalRef), "power off before delete failed")
	}
	err = c.call(ctx, serviceTenant, http.MethodDelete, "/api/vcenter/vm/"+externalRef, nil, nil)
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

// TestConnectivity verifies the endpoint is reachable and the session is
// accepted.
func (c *VSphereClient) TestConnectivity(ctx context.Context) error {
	return c.call(ctx, serviceTenant, http.MethodGet, "/api/session", nil, nil)
}

// KeepAlive refreshes every cached tenant session so long idle periods do
// not pay a login on the next provisioning run.
func (c *VSphereClient) KeepAlive(ctx context.Context) error {
	return c.sessions.RefreshAll(ctx)
}

// createSession logs in to vCenter. The API returns the token as a bare JSON
// string.
func (c *VSphereClient) createSession(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+"/api/session", nil)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build session request")
	}
	req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "vsphere session login failed")
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read session response")
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("vsphere session login rejected (status %d)", resp.StatusCode))
	}
	var token string
	if err := json.Unmarshal(body, &token); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode session token")
	}
	return token, nil
}

// call runs one API operation with the configured per-call timeout, retrying
// transient failures and re-authenticating once when the session is rejected.
func (c *VSphereClient) call(ctx context.Context, tenantID uuid.UUID, method, path string, body any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode request body")
		}
		payload = encoded
	}

	backoff := retry.WithMaxRetries(uint64(c.cfg.RetryAttempts), retry.NewExponential(retryBaseBackoff))
	var resp apiResponse
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		token, err := c.sessions.Token(ctx, tenantID)
		if err != nil {
			return retry.RetryableError(err)
		}
		attempt, err := c.breaker.Execute(func() (apiResponse, error) {
			return c.roundTrip(ctx, method, path, payload, token)
		})
		if err != nil {
			if breakerOpen(err) {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "hypervisor circuit open")
			}
			return retry.RetryableError(pkgerrors.Wrap(pkgerrors.CodeDependency, err, "vsphere call failed"))
		}
		if attempt.status == http.StatusUnauthorized {
			c.sessions.Invalidate(tenantID)
			return retry.RetryableError(pkgerrors.New(pkgerrors.CodeDependency, "vsphere session expired"))
		}
		resp = attempt
		return nil
	})
	if err != nil {
		return err
	}
	if resp.status < http.StatusOK || resp.status >= http.StatusMultipleChoices {
		return statusError(method, path, resp)
	}
	if out != nil && len(resp.body) > 0 {
		if err := json.Unmarshal(resp.body, out); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode vsphere response")
		}
	}
	return nil
}

// roundTrip does the raw HTTP exchange. Transport failures and 5xx statuses
// are errors so the breaker counts them; client-side rejections come back as
// a status for the caller to classify.
func (c *VSphereClient) roundTrip(ctx context.Context, method, path string, payload []byte, token string) (apiResponse, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.Endpoint+path, reader)
	if err != nil {
		return apiResponse{}, err
	}
	req.Header.Set(sessionHeader, token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return apiResponse{}, err
	}
	defer resp.Body.Close()
	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return apiResponse{}, err
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return apiResponse{}, fmt.Errorf("vsphere %s %s returned status %d", method, path, resp.StatusCode)
	}
	return apiResponse{status: resp.StatusCode, body: bodyBytes}, nil
}

func statusError(method, path string, resp apiResponse) error {
	code := pkgerrors.CodeDependency
	if resp.status == http.StatusNotFound {
		code = pkgerrors.CodeNotFound
	}
	return pkgerrors.New(code, fmt.Sprintf("vsphere %s %s rejected (status %d)", method, path, resp.status))
}

func breakerOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func isNotFound(err error) bool {
	return pkgerrors.HasCode(err, pkgerrors.CodeNotFound)
}

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Wikid82/sentinel/backend/internal/logger"
	"github.com/Wikid82/sentinel/backend/internal/models"
)

var (
	ErrAccessListNotFound    = errors.New("access list not found")
	ErrInvalidAccessListType = errors.New("invalid access list type")
	ErrInvalidIPAddress      = errors.New("invalid IP address or CIDR")
)

// ValidAccessListTypes defines allowed access list types
var ValidAccessListTypes = []string{models.AccessListAllow, models.AccessListDeny}

// RFC1918PrivateNetworks defines private IP ranges
var RFC1918PrivateNetworks = []string{
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",    // localhost
	"169.254.0.0/16", // link-local
	"fc00::/7",       // IPv6 ULA
	"fe80::/10",      // IPv6 link-local
	"::1/128",        // IPv6 localhost
}

// AccessListService manages the allow and deny lists consulted by the
// request gate. Every change is pushed into the attached IPLists.
type AccessListService struct {
	db    *gorm.DB
	lists *IPLists
}

// NewAccessListService returns a service that keeps lists in sync. lists may be nil.
func NewAccessListService(db *gorm.DB, lists *IPLists) *AccessListService {
	return &AccessListService{db: db, lists: lists}
}

// Create creates a new access list with validation
func (s *AccessListService) Create(ctx context.Context, acl *models.AccessList) error {
	if err := s.validateAccessList(acl); err != nil {
		return err
	}

	acl.UUID = uuid.New().String()
	if err := s.db.WithContext(ctx).Create(acl).Error; err != nil {
		return err
	}
	return s.sync(ctx)
}

// GetByID retrieves an access list by ID
func (s *AccessListService) GetByID(ctx context.Context, id uint) (*models.AccessList, error) {
	var acl models.AccessList
	if err := s.db.WithContext(ctx).First(&acl, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccessListNotFound
		}
		return nil, err
	}
	return &acl, nil
}

// GetByUUID retrieves an access list by UUID
func (s *AccessListService) GetByUUID(ctx context.Context, uuid string) (*models.AccessList, error) {
	var acl models.AccessList
	if err := s.db.WithContext(ctx).Where("uuid = ?", uuid).First(&acl).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccessListNotFound
		}
		return nil, err
	}
	return &acl, nil
}

// List retrieves all access lists sorted by updated_at desc
func (s *AccessListService) List(ctx context.Context) ([]models.AccessList, error) {
	var acls []models.AccessList
	if err := s.db.WithContext(ctx).Order("updated_at desc").Find(&acls).Error; err != nil {
		return nil, err
	}
	return acls, nil
}

// Update updates an existing access list with validation
func (s *AccessListService) Update(ctx context.Context, id uint, updates *models.AccessList) (*models.AccessList, error) {
	acl, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	acl.Name = updates.Name
	acl.Description = updates.Description
	acl.Type = updates.Type
	acl.IPRules = updates.IPRules
	acl.Enabled = updates.Enabled

	if err := s.validateAccessList(acl); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Save(acl).Error; err != nil {
		return nil, err
	}
	return acl, s.sync(ctx)
}

// Delete removes an access list.
func (s *AccessListService) Delete(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Delete(&models.AccessList{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccessListNotFound
	}
	return s.sync(ctx)
}

// TestIP reports whether ipAddress would be admitted by one access list.
func (s *AccessListService) TestIP(ctx context.Context, aclID uint, ipAddress string) (bool, string, error) {
	acl, err := s.GetByID(ctx, aclID)
	if err != nil {
		return false, "", err
	}

	if !acl.Enabled {
		return true, "Access list is disabled - all traffic allowed", nil
	}

	ip := net.ParseIP(strings.TrimSpace(ipAddress))
	if ip == nil {
		return false, "", ErrInvalidIPAddress
	}

	rules, err := ParseRules(acl.IPRules)
	if err != nil {
		return false, "", err
	}
	for _, rule := range rules {
		if ipMatchesCIDR(ip, rule.CIDR) {
			if acl.Type == models.AccessListAllow {
				return true, fmt.Sprintf("Allowed by allow list rule: %s", rule.CIDR), nil
			}
			return false, fmt.Sprintf("Blocked by deny list rule: %s", rule.CIDR), nil
		}
	}

	if acl.Type == models.AccessListAllow {
		return true, "Not in allow list - regular checks apply", nil
	}
	return true, "Not in deny list", nil
}

// Refresh reloads every enabled list into the attached IPLists.
func (s *AccessListService) Refresh(ctx context.Context) error {
	return s.sync(ctx)
}

func (s *AccessListService) sync(ctx context.Context) error {
	if s.lists == nil {
		return nil
	}
	var acls []models.AccessList
	if err := s.db.WithContext(ctx).Where("enabled = ?", true).Find(&acls).Error; err != nil {
		return fmt.Errorf("load access lists: %w", err)
	}
	var allow, deny []string
	for _, acl := range acls {
		rules, err := ParseRules(acl.IPRules)
		if err != nil {
			logger.Source("access_list").WithError(err).WithField("access_list", acl.UUID).Warn("skipping unreadable access list")
			continue
		}
		for _, r := range rules {
			if acl.Type == models.AccessListAllow {
				allow = append(allow, r.CIDR)
			} else {
				deny = append(deny, r.CIDR)
			}
		}
	}
	return s.lists.SetDynamic(allow, deny)
}

// ParseRules decodes the JSON rule array stored on an access list.
func ParseRules(raw string) ([]models.AccessListRule, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var rules []models.AccessListRule
	if err := json.Unmarshal([]byte(raw), &rules); err != nil {
		return nil, fmt.Errorf("invalid IP rules JSON: %w", err)
	}
	return rules, nil
}

// validateAccessList validates access list fields
func (s *AccessListService) validateAccessList(acl *models.AccessList) error {
	if strings.TrimSpace(acl.Name) == "" {
		return errors.New("name is required")
	}

	if !isValidType(acl.Type) {
		return ErrInvalidAccessListType
	}

	rules, err := ParseRules(acl.IPRules)
	if err != nil {
		return err
	}
	for _, rule := range rules {
		if !isValidCIDR(rule.CIDR) {
			return fmt.Errorf("%w: %s", ErrInvalidIPAddress, rule.CIDR)
		}
	}
	return nil
}

func isValidType(aclType string) bool {
	for _, valid := range ValidAccessListTypes {
		if aclType == valid {
			return true
		}
	}
	return false
}

// isValidCIDR validates IP address or CIDR notation
func isValidCIDR(cidr string) bool {
	if ip := net.ParseIP(cidr); ip != nil {
		return true
	}
	_, _, err := net.ParseCIDR(cidr)
	return err == nil
}

// ipMatchesCIDR checks if an IP matches a CIDR block
func ipMatchesCIDR(ip net.IP, cidr string) bool {
	if singleIP := net.ParseIP(cidr); singleIP != nil {
		return ip.Equal(singleIP)
	}
	_, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		return false
	}
	return ipNet.Contains(ip)
}

// IsPrivateIP checks if an IP is in RFC1918 private ranges
func IsPrivateIP(ip net.IP) bool {
	for _, cidr := range RFC1918PrivateNetworks {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// GetTemplates returns predefined access list templates
func (s *AccessListService) GetTemplates() []map[string]interface{} {
	return []map[string]interface{}{
		{
			"id":          "local-network",
			"name":        "Local Network",
			"description": "Exempt RFC1918 private networks (office, VPN, monitoring) from throttling",
			"type":        models.AccessListAllow,
			"ip_rules":    RFC1918PrivateNetworks,
		},
		{
			"id":          "documentation-ranges",
			"name":        "Documentation Ranges",
			"description": "Reject traffic from reserved documentation networks",
			"type":        models.AccessListDeny,
			"ip_rules":    []string{"192.0.2.0/24", "198.51.100.0/24", "203.0.113.0/24", "2001:db8::/32"},
		},
	}
}

// IPLists is the in-memory allow/deny membership consulted on every request.
// Static entries come from configuration; dynamic entries from stored access lists.
type IPLists struct {
	mu           sync.RWMutex
	staticAllow  []*net.IPNet
	staticDeny   []*net.IPNet
	dynamicAllow []*net.IPNet
	dynamicDeny  []*net.IPNet
}

// NewIPLists compiles the configured static entries.
func NewIPLists(allow, deny []string) (*IPLists, error) {
	a, err := compileNets(allow)
	if err != nil {
		return nil, err
	}
	d, err := compileNets(deny)
	if err != nil {
		return nil, err
	}
	return &IPLists{staticAllow: a, staticDeny: d}, nil
}

// SetDynamic replaces the entries loaded from stored access lists.
func (l *IPLists) SetDynamic(allow, deny []string) error {
	a, err := compileNets(allow)
	if err != nil {
		return err
	}
	d, err := compileNets(deny)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.dynamicAllow, l.dynamicDeny = a, d
	l.mu.Unlock()
	return nil
}

// IsAllowed reports allow list membership.
func (l *IPLists) IsAllowed(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return containsIP(l.staticAllow, parsed) || containsIP(l.dynamicAllow, parsed)
}

// IsDenied reports deny list membership.
func (l *IPLists) IsDenied(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return containsIP(l.staticDeny, parsed) || containsIP(l.dynamicDeny, parsed)
}

// Counts returns the number of allow and deny entries.
func (l *IPLists) Counts() (allow, deny int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.staticAllow) + len(l.dynamicAllow), len(l.staticDeny) + len(l.dynamicDeny)
}

func compileNets(entries []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if !strings.Contains(e, "/") {
			ip := net.ParseIP(e)
			if ip == nil {
				return nil, fmt.Errorf("%w: %s", ErrInvalidIPAddress, e)
			}
			bits := 128
			if ip.To4() != nil {
				ip = ip.To4()
				bits = 32
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(e)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidIPAddress, e)
		}
		nets = append(nets, n)
	}
	return nets, nil
}

func containsIP(nets []*net.IPNet, ip net.IP) bool {
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

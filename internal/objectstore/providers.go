package objectstore

import (
	"fmt"
	"strings"
)

// Provider names an S3-compatible service preset.
type Provider string

const (
	ProviderAWS   Provider = "aws"
	ProviderMinIO Provider = "minio"
	ProviderR2    Provider = "r2"
	// ProviderCustom uses Endpoint as given.
	ProviderCustom Provider = "custom"
)

// Default AWS S3 endpoints by region.
var awsEndpoints = map[string]string{
	"us-east-1":      "s3.amazonaws.com",
	"us-east-2":      "s3.us-east-2.amazonaws.com",
	"us-west-1":      "s3.us-west-1.amazonaws.com",
	"us-west-2":      "s3.us-west-2.amazonaws.com",
	"eu-west-1":      "s3.eu-west-1.amazonaws.com",
	"eu-west-2":      "s3.eu-west-2.amazonaws.com",
	"eu-central-1":   "s3.eu-central-1.amazonaws.com",
	"ap-northeast-1": "s3.ap-northeast-1.amazonaws.com",
	"ap-southeast-1": "s3.ap-southeast-1.amazonaws.com",
	"ap-southeast-2": "s3.ap-southeast-2.amazonaws.com",
	"ap-south-1":     "s3.ap-south-1.amazonaws.com",
	"ca-central-1":   "s3.ca-central-1.amazonaws.com",
	"sa-east-1":      "s3.sa-east-1.amazonaws.com",
}

// AWSEndpointForRegion returns the S3 endpoint for a given region.
func AWSEndpointForRegion(region string) (string, error) {
	endpoint, ok := awsEndpoints[region]
	if !ok {
		return "", fmt.Errorf("unknown AWS region: %s", region)
	}
	return endpoint, nil
}

// R2EndpointForAccount returns the R2 endpoint for a given account ID.
func R2EndpointForAccount(accountID string) string {
	return fmt.Sprintf("%s.r2.cloudflarestorage.com", accountID)
}

// IsValidR2AccountID reports whether accountID looks like a Cloudflare account id
// (32 hex characters).
func IsValidR2AccountID(accountID string) bool {
	if len(accountID) != 32 {
		return false
	}
	for _, c := range accountID {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return false
		}
	}
	return true
}

// withScheme adds http:// or https:// when endpoint has no scheme and trims a trailing slash.
func withScheme(endpoint string, useSSL bool) string {
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		if useSSL {
			endpoint = "https://" + endpoint
		} else {
			endpoint = "http://" + endpoint
		}
	}
	return strings.TrimSuffix(endpoint, "/")
}

// resolved is the connection shape of a provider preset.
type resolved struct {
	endpoint  string
	region    string
	pathStyle bool
}

// resolve applies the provider preset to cfg.
// AWS uses virtual-host style URLs, MinIO requires path-style, R2 uses an account endpoint
// with region "auto".
func resolve(cfg S3Config) (resolved, error) {
	switch cfg.Provider {
	case ProviderAWS, "":
		region := cfg.Region
		if region == "" {
			region = "us-east-1"
		}
		host, ok := awsEndpoints[region]
		if !ok {
			host = "s3." + region + ".amazonaws.com"
		}
		endpoint := "https://" + host
		if cfg.Endpoint != "" {
			endpoint = withScheme(cfg.Endpoint, true)
		}
		return resolved{endpoint: endpoint, region: region, pathStyle: cfg.ForcePathStyle}, nil

	case ProviderMinIO:
		if cfg.Endpoint == "" {
			return resolved{}, fmt.Errorf("minio endpoint cannot be empty")
		}
		// MinIO doesn't use regions, default required
		return resolved{endpoint: withScheme(cfg.Endpoint, cfg.UseSSL), region: "us-east-1", pathStyle: true}, nil

	case ProviderR2:
		if cfg.AccountID == "" {
			return resolved{}, fmt.Errorf("r2 account id is required")
		}
		return resolved{endpoint: "https://" + R2EndpointForAccount(cfg.AccountID), region: "auto", pathStyle: cfg.ForcePathStyle}, nil

	case ProviderCustom:
		if cfg.Endpoint == "" {
			return resolved{}, fmt.Errorf("custom endpoint cannot be empty")
		}
		region := cfg.Region
		if region == "" {
			region = "us-east-1"
		}
		return resolved{endpoint: withScheme(cfg.Endpoint, cfg.UseSSL), region: region, pathStyle: true}, nil
	}
	return resolved{}, fmt.Errorf("unknown storage provider: %s", cfg.Provider)
}

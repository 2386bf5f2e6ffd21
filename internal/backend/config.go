package backend

import (
	"fmt"

	"duescheck/internal/config"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	backendType := BackendType(appConfig.DataBackend)
	if !backendType.IsValid() {
		return Config{}, fmt.Errorf("invalid backend type in config: %s", appConfig.DataBackend)
	}

	return Config{
		Type: backendType,

		GoogleSpreadsheetID:      appConfig.GoogleSpreadsheetID,
		GoogleAPIKey:             appConfig.GoogleAPIKey,
		GoogleServiceAccountJSON: appConfig.GoogleServiceAccountJSON,
		GoogleServiceAccountFile: appConfig.GoogleServiceAccountFile,
		GoogleOAuthClientFile:    appConfig.GoogleOAuthClientFile,
		GoogleOAuthTokenFile:     appConfig.GoogleOAuthTokenFile,
		GoogleOAuthClientJSON:    appConfig.GoogleOAuthClientJSON,
		GoogleOAuthTokenJSON:     appConfig.GoogleOAuthTokenJSON,
		SearchLogSheetName:       appConfig.SearchLogSheetName,

		SummarySheetName: appConfig.SummarySheetName,
		DataDirectory:    appConfig.DataDir,
	}, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}

	switch c.Type {
	case SheetsBackend:
		if c.GoogleSpreadsheetID == "" {
			return fmt.Errorf("Google Spreadsheet ID is required for sheets backend")
		}
		if c.SummarySheetName == "" || c.SearchLogSheetName == "" {
			return fmt.Errorf("summary and search log sheet names are required for sheets backend")
		}
		hasServiceAccount := c.GoogleServiceAccountJSON != "" || c.GoogleServiceAccountFile != ""
		hasOAuth := (c.GoogleOAuthClientFile != "" || c.GoogleOAuthClientJSON != "") &&
			(c.GoogleOAuthTokenFile != "" || c.GoogleOAuthTokenJSON != "")
		if !hasServiceAccount && !hasOAuth && c.GoogleAPIKey == "" {
			return fmt.Errorf("sheets backend needs a service account, an OAuth client and token, or an API key")
		}

	case MemoryBackend:
		// DataDirectory defaults to "data" when empty
	}

	return nil
}

// GetBackendTypes returns all valid backend types
func GetBackendTypes() []BackendType {
	return []BackendType{MemoryBackend, SheetsBackend}
}

// GetBackendTypeStrings returns all valid backend type strings
func GetBackendTypeStrings() []string {
	types := GetBackendTypes()
	strings := make([]string, len(types))
	for i, t := range types {
		strings[i] = t.String()
	}
	return strings
}

package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/soaringjerry/opine/internal/utils"
)

const localeKey = "opine.locale"

// Locale extracts the locale from the lang query parameter or
// Accept-Language and stores it on the context.
func Locale() gin.HandlerFunc {
	return func(c *gin.Context) {
		locale := utils.DetermineLocale(c.Query("lang"), c.GetHeader("Accept-Language"), utils.SupportedLocales, "en")
		c.Set(localeKey, locale)
		c.Next()
	}
}

// LocaleFrom retrieves the locale stored by Locale.
func LocaleFrom(c *gin.Context) string {
	if s := c.GetString(localeKey); s != "" {
		return s
	}
	return "en"
}

package middleware

import "github.com/gin-gonic/gin"

// adminSubjectKey is the key used to store the authenticated admin's subject claim.
const adminSubjectKey = contextKey("adminSubject")

// GetAdminSubjectFromContext retrieves the subject of the admin token that authorized the request.
func GetAdminSubjectFromContext(c *gin.Context) (string, bool) {
	subject, ok := c.Request.Context().Value(adminSubjectKey).(string)
	return subject, ok && subject != ""
}

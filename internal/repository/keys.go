package repository

import (
	"fmt"

	"github.com/Madhan-droid/user-management-kiro-poc/internal/domain"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/storage"
)

// One logical user spans three records: the profile under USER#, the
// email uniqueness claim under USER_EMAIL#, and a trimmed copy filed
// under the USER_STATUS# partition it is currently in. Idempotency and
// audit records get their own partitions.

func userKey(userID string) storage.Key {
	return storage.Key{PK: "USER#" + userID, SK: "PROFILE"}
}

func emailKey(email string) storage.Key {
	return storage.Key{PK: "USER_EMAIL#" + email, SK: "USER"}
}

func statusPartition(status domain.Status) string {
	return "USER_STATUS#" + string(status)
}

func statusKey(status domain.Status, userID string) storage.Key {
	return storage.Key{PK: statusPartition(status), SK: "USER#" + userID}
}

func idempotencyKey(key string) storage.Key {
	return storage.Key{PK: "IDEM#" + key, SK: "IDEM"}
}

func auditPartition(userID string) string {
	return "AUDIT#" + userID
}

// auditSeqSK zero-pads the sequence so lexicographic partition order
// matches numeric order.
func auditSeqSK(seq uint64) string {
	return fmt.Sprintf("%012d", seq)
}

func auditKey(userID string, seq uint64) storage.Key {
	return storage.Key{PK: auditPartition(userID), SK: auditSeqSK(seq)}
}

func auditCounterKey(userID string) storage.Key {
	return storage.Key{PK: "AUDITSEQ#" + userID, SK: "SEQ"}
}

package vault

// Entry is a vault entry as stored on the server. Password and IV are ciphertext.
type Entry struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Password Bytes  `json:"password"`
	IV       Bytes  `json:"iv"`
	Files    []File `json:"files"`
}

// File is an encrypted attachment of an Entry.
type File struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Data Bytes  `json:"file"`
	IV   Bytes  `json:"iv"`
}

// Credentials is the plaintext content of an entry, as entered by the user.
type Credentials struct {
	Name     string
	Username string
	Password string
}

// DecryptedEntry is an Entry with its password opened. Err is set instead of Password
// when this entry could not be decrypted; the other entries are unaffected.
type DecryptedEntry struct {
	ID       int64
	Name     string
	Username string
	Password string
	Files    []File
	Err      error
}

type entryRequest struct {
	ID       int64  `json:"id,omitempty"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Password Bytes  `json:"password"`
	IV       Bytes  `json:"iv"`
}

type batchRequest struct {
	Entries []entryRequest `json:"entries"`
}

type batchResponse struct {
	Message string         `json:"message"`
	Errors  []BatchFailure `json:"errors"`
}

type idRequest struct {
	ID int64 `json:"id"`
}

type createdResponse struct {
	Message string `json:"message"`
	ID      int64  `json:"id"`
}

type fileRequest struct {
	EntryID int64  `json:"id"`
	Name    string `json:"name"`
	File    Bytes  `json:"file"`
	IV      Bytes  `json:"iv"`
}

type saltResponse struct {
	Salt string `json:"salt"`
}

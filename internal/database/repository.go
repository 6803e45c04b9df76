package database

type ChatRepository interface {
	Ping() error
	CreateAccount(params CreateAccountParams) (Account, error)
	GetAccountById(accountId int) (Account, error)
	GetAccountByEmail(email string) (Account, error)
	GetUsernames(accountIds []int) (map[int]string, error)
	CreateThread(params CreateThreadParams) (Thread, error)
	GetThreadByExternalId(externalId string) (Thread, error)
	ReadStateExists(threadId, accountId int) bool
	ListReadStatesByUser(accountId int) ([]ReadState, error)
	UpdateReadState(threadId, accountId int, seq int64) error
	CreateMessage(params CreateMessageParams) (Message, error)
	GetLastMessage(threadId int) (Message, error)
}

package database

import (
	"github.com/stretchr/testify/mock"
)

type MockChatRepository struct {
	mock.Mock
}

func (m *MockChatRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockChatRepository) CreateAccount(params CreateAccountParams) (Account, error) {
	args := m.Called(params)
	return args.Get(0).(Account), args.Error(1)
}
func (m *MockChatRepository) GetAccountById(accountId int) (Account, error) {
	args := m.Called(accountId)
	return args.Get(0).(Account), args.Error(1)
}
func (m *MockChatRepository) GetAccountByEmail(email string) (Account, error) {
	args := m.Called(email)
	return args.Get(0).(Account), args.Error(1)
}
func (m *MockChatRepository) GetUsernames(accountIds []int) (map[int]string, error) {
	args := m.Called(accountIds)
	return args.Get(0).(map[int]string), args.Error(1)
}
func (m *MockChatRepository) CreateThread(params CreateThreadParams) (Thread, error) {
	args := m.Called(params)
	return args.Get(0).(Thread), args.Error(1)
}
func (m *MockChatRepository) GetThreadByExternalId(externalId string) (Thread, error) {
	args := m.Called(externalId)
	return args.Get(0).(Thread), args.Error(1)
}
func (m *MockChatRepository) ReadStateExists(threadId, accountId int) bool {
	args := m.Called(threadId, accountId)
	return args.Bool(0)
}
func (m *MockChatRepository) ListReadStatesByUser(accountId int) ([]ReadState, error) {
	args := m.Called(accountId)
	return args.Get(0).([]ReadState), args.Error(1)
}
func (m *MockChatRepository) UpdateReadState(threadId, accountId int, seq int64) error {
	args := m.Called(threadId, accountId, seq)
	return args.Error(0)
}
func (m *MockChatRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	args := m.Called(params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) GetLastMessage(threadId int) (Message, error) {
	args := m.Called(threadId)
	return args.Get(0).(Message), args.Error(1)
}

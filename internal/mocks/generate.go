package mocks

//go:generate mockery --name Backend --srcpkg github.com/aevon-lab/x402-facilitator/internal/settlement --output ./settlement --outpkg settlementmocks --with-expecter

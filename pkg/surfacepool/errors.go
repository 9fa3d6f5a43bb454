package surfacepool

import "errors"

var (
	ErrClosed                = errors.New("pool de surfaces fechado")
	ErrAllocation            = errors.New("falha ao alocar surface")
	ErrCopy                  = errors.New("falha ao copiar dados para a surface")
	ErrTextureCreationBroken = errors.New("criação de textura não funciona nesta plataforma")

	// errZeroCopyFailed sinaliza que a tentativa zero-copy falhou e o frame
	// deve ser refeito pelo caminho de cópia.
	errZeroCopyFailed = errors.New("zero-copy falhou")
)

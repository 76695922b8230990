package logging

// Convenience wrappers so call sites read as logging.Provider("...") instead
// of logging.Get(logging.CategoryProvider).Info("...").

func Boot(format string, args ...interface{})  { Get(CategoryBoot).Info(format, args...) }
func Configf(format string, args ...interface{}) { Get(CategoryConfig).Info(format, args...) }

func Session(format string, args ...interface{})      { Get(CategorySession).Info(format, args...) }
func SessionDebug(format string, args ...interface{}) { Get(CategorySession).Debug(format, args...) }
func SessionWarn(format string, args ...interface{})  { Get(CategorySession).Warn(format, args...) }
func SessionError(format string, args ...interface{}) { Get(CategorySession).Error(format, args...) }

func Pipeline(format string, args ...interface{})      { Get(CategoryPipeline).Info(format, args...) }
func PipelineDebug(format string, args ...interface{}) { Get(CategoryPipeline).Debug(format, args...) }
func PipelineWarn(format string, args ...interface{})  { Get(CategoryPipeline).Warn(format, args...) }

func Provider(format string, args ...interface{})      { Get(CategoryProvider).Info(format, args...) }
func ProviderDebug(format string, args ...interface{}) { Get(CategoryProvider).Debug(format, args...) }
func ProviderWarn(format string, args ...interface{})  { Get(CategoryProvider).Warn(format, args...) }

func Fetcher(format string, args ...interface{})      { Get(CategoryFetcher).Info(format, args...) }
func FetcherDebug(format string, args ...interface{}) { Get(CategoryFetcher).Debug(format, args...) }
func FetcherWarn(format string, args ...interface{})  { Get(CategoryFetcher).Warn(format, args...) }

func LLM(format string, args ...interface{})      { Get(CategoryLLM).Info(format, args...) }
func LLMDebug(format string, args ...interface{}) { Get(CategoryLLM).Debug(format, args...) }
func LLMWarn(format string, args ...interface{})  { Get(CategoryLLM).Warn(format, args...) }

func Memory(format string, args ...interface{})      { Get(CategoryMemory).Info(format, args...) }
func MemoryDebug(format string, args ...interface{}) { Get(CategoryMemory).Debug(format, args...) }
func MemoryWarn(format string, args ...interface{})  { Get(CategoryMemory).Warn(format, args...) }

func Domain(format string, args ...interface{})     { Get(CategoryDomain).Info(format, args...) }
func DomainWarn(format string, args ...interface{}) { Get(CategoryDomain).Warn(format, args...) }

func Server(format string, args ...interface{})     { Get(CategoryServer).Info(format, args...) }
func ServerWarn(format string, args ...interface{}) { Get(CategoryServer).Warn(format, args...) }

func Health(format string, args ...interface{})     { Get(CategoryHealth).Info(format, args...) }
func HealthWarn(format string, args ...interface{}) { Get(CategoryHealth).Warn(format, args...) }
